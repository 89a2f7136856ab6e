package wire

import "testing"

type fakeSink struct {
	infos  [][]byte
	msgs   []string
	pings  int
	pongs  int
	errs   []string
}

func (f *fakeSink) OnInfo(payload []byte)                                  { f.infos = append(f.infos, payload) }
func (f *fakeSink) OnMsg(subject string, sid uint64, reply string, payload []byte) {
	f.msgs = append(f.msgs, subject+"|"+reply+"|"+string(payload))
}
func (f *fakeSink) OnPing()          { f.pings++ }
func (f *fakeSink) OnPong()          { f.pongs++ }
func (f *fakeSink) OnErr(text string) { f.errs = append(f.errs, text) }

func TestFeedParsesInfoLine(t *testing.T) {
	sink := &fakeSink{}
	p := New(sink)
	_, err := p.Feed([]byte("INFO {\"server_id\":\"x\"}\r\n"))
	if err != nil {
		t.Fatal(err)
	}
	if len(sink.infos) != 1 || string(sink.infos[0]) != `{"server_id":"x"}` {
		t.Fatalf("infos = %v", sink.infos)
	}
}

func TestFeedParsesPingPong(t *testing.T) {
	sink := &fakeSink{}
	p := New(sink)
	if _, err := p.Feed([]byte("PING\r\nPONG\r\n")); err != nil {
		t.Fatal(err)
	}
	if sink.pings != 1 || sink.pongs != 1 {
		t.Fatalf("pings=%d pongs=%d", sink.pings, sink.pongs)
	}
}

func TestFeedIgnoresOK(t *testing.T) {
	sink := &fakeSink{}
	p := New(sink)
	if _, err := p.Feed([]byte("+OK\r\nPING\r\n")); err != nil {
		t.Fatal(err)
	}
	if sink.pings != 1 {
		t.Fatal("+OK should be silently consumed, PING still processed")
	}
}

func TestFeedParsesErrStripsQuotes(t *testing.T) {
	sink := &fakeSink{}
	p := New(sink)
	if _, err := p.Feed([]byte("-ERR 'Authorization Violation'\r\n")); err != nil {
		t.Fatal(err)
	}
	if len(sink.errs) != 1 || sink.errs[0] != "Authorization Violation" {
		t.Fatalf("errs = %v", sink.errs)
	}
}

func TestFeedParsesMsgWithoutReply(t *testing.T) {
	sink := &fakeSink{}
	p := New(sink)
	if _, err := p.Feed([]byte("MSG foo 1 5\r\nhello\r\n")); err != nil {
		t.Fatal(err)
	}
	if len(sink.msgs) != 1 || sink.msgs[0] != "foo||hello" {
		t.Fatalf("msgs = %v", sink.msgs)
	}
}

func TestFeedParsesMsgWithReply(t *testing.T) {
	sink := &fakeSink{}
	p := New(sink)
	if _, err := p.Feed([]byte("MSG foo 1 bar 5\r\nhello\r\n")); err != nil {
		t.Fatal(err)
	}
	if len(sink.msgs) != 1 || sink.msgs[0] != "foo|bar|hello" {
		t.Fatalf("msgs = %v", sink.msgs)
	}
}

func TestFeedHandlesPartialDelivery(t *testing.T) {
	sink := &fakeSink{}
	p := New(sink)
	if _, err := p.Feed([]byte("MSG foo 1 5\r\nhe")); err != nil {
		t.Fatal(err)
	}
	if len(sink.msgs) != 0 {
		t.Fatal("message should not be delivered until the full payload arrives")
	}
	if _, err := p.Feed([]byte("llo\r\n")); err != nil {
		t.Fatal(err)
	}
	if len(sink.msgs) != 1 || sink.msgs[0] != "foo||hello" {
		t.Fatalf("msgs = %v", sink.msgs)
	}
}

func TestFeedRejectsMalformedMsgSid(t *testing.T) {
	sink := &fakeSink{}
	p := New(sink)
	if _, err := p.Feed([]byte("MSG foo notanumber 5\r\nhello\r\n")); err == nil {
		t.Fatal("expected an error for a malformed sid")
	}
}

func TestFeedDoesNotAliasAcrossCalls(t *testing.T) {
	sink := &fakeSink{}
	p := New(sink)
	if _, err := p.Feed([]byte("MSG a 1 3\r\nabc\r\nMSG b 2 3\r\n")); err != nil {
		t.Fatal(err)
	}
	first := []byte(sink.msgs[0])
	if _, err := p.Feed([]byte("xyz\r\n")); err != nil {
		t.Fatal(err)
	}
	if string(first) != "a||abc" {
		t.Fatalf("first delivered message mutated: %q", first)
	}
	if sink.msgs[1] != "b||xyz" {
		t.Fatalf("second message = %q", sink.msgs[1])
	}
}
