// Package auth assembles the CONNECT handshake payload and resolves
// which authentication variant applies, per spec.md §4.G. NKEY
// cryptographic primitives (signing, seed-to-pubkey derivation) are named
// external collaborators in spec.md §1 Non-goals; this package defines
// the Signer seam and a credentials-file parser, but delegates the
// actual signature math to a pluggable SeedSigner. Grounded on the
// teacher's nonce.Manager (core/internal/nonce/nonce.go), which owns an
// analogous "generate/validate a per-session nonce" responsibility
// behind a narrow interface.
package auth

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"strings"

	"github.com/coreclient/natscore/pkg/natserr"
)

// LangName and Version populate the CONNECT payload's lang/version
// fields, mirroring the teacher's habit of stamping a client identity
// (karoo/internal/stratum subscribe response) into protocol handshakes.
const (
	LangName = "go"
	Version  = "1.0.0"
)

// Signer produces a detached signature over a server nonce. The caller
// supplies one directly (Options.SignatureCB) or indirectly via a
// credentials file's seed.
type Signer func(nonce []byte) ([]byte, error)

// JWTProvider resolves the current user JWT, on demand, at handshake
// time.
type JWTProvider func() (string, error)

// SeedSigner performs the actual NKEY signature given a seed string and
// nonce bytes. spec.md names NKEY cryptographic primitives as an
// external collaborator; the zero-value implementation below is a
// deliberate stub so a misconfigured module fails loudly (BAD_CREDENTIALS)
// rather than silently, until the host application wires in a real NKEY
// signer.
var SeedSigner Signer = func(nonce []byte) ([]byte, error) {
	return nil, natserr.New(natserr.CodeBadCredentials, "no NKEY signing primitive configured for credentials-file authentication")
}

// Credentials is the payload extracted from a chained credentials file:
// a user JWT and an NKEY seed, per spec.md's "Credentials file format".
type Credentials struct {
	JWT  string
	Seed string
}

// ParseCredentials extracts the two PEM-like fenced blocks from a
// credentials file's contents. A fence is a line that opens with at least
// five dashes followed by BEGIN or END and closes with five dashes. The
// first recognised block is the JWT, the second is the seed; a file
// without a JWT block fails with NO_USER_JWT_IN_CREDS, and one without a
// seed block fails with NO_SEED_IN_CREDS.
func ParseCredentials(data []byte) (*Credentials, error) {
	var blocks []string
	var cur *bytes.Buffer

	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := sc.Text()
		trimmed := strings.TrimSpace(line)
		fence := strings.TrimLeft(trimmed, "-")
		dashed := len(trimmed)-len(fence) >= 5 && strings.HasSuffix(trimmed, "-----")
		switch {
		case dashed && strings.HasPrefix(fence, "BEGIN"):
			cur = &bytes.Buffer{}
		case dashed && strings.HasPrefix(fence, "END"):
			if cur != nil {
				blocks = append(blocks, strings.TrimSpace(cur.String()))
				cur = nil
			}
		case cur != nil:
			cur.WriteString(trimmed)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, natserr.Wrap(natserr.CodeBadCredentials, "failed to read credentials file", err)
	}

	if len(blocks) < 1 || blocks[0] == "" {
		return nil, natserr.New(natserr.CodeNoUserJwtInCreds, "credentials file has no user JWT block")
	}
	if len(blocks) < 2 || blocks[1] == "" {
		return nil, natserr.New(natserr.CodeNoSeedInCreds, "credentials file has no NKEY seed block")
	}
	return &Credentials{JWT: blocks[0], Seed: blocks[1]}, nil
}

// Options carries every auth-relevant field from the connection's
// configuration record (spec.md §6 Connection Options).
type Options struct {
	Verbose     bool
	Pedantic    bool
	Name        string
	User        string
	Pass        string
	Token       string
	NKey        string
	UserJWT     string
	JWTCallback JWTProvider
	SignatureCB Signer
	CredsData   []byte // pre-loaded credentials file bytes; file I/O is the caller's concern
}

// ConnectPayload is the JSON object sent as the CONNECT command body,
// per spec.md §6 "CONNECT JSON fields the client emits".
type ConnectPayload struct {
	Lang      string `json:"lang"`
	Version   string `json:"version"`
	Verbose   bool   `json:"verbose"`
	Pedantic  bool   `json:"pedantic"`
	Protocol  int    `json:"protocol"`
	Sig       string `json:"sig,omitempty"`
	JWT       string `json:"jwt,omitempty"`
	NKey      string `json:"nkey,omitempty"`
	User      string `json:"user,omitempty"`
	Pass      string `json:"pass,omitempty"`
	AuthToken string `json:"auth_token,omitempty"`
	Name      string `json:"name,omitempty"`
}

// Handshake resolves the signer/JWT source once at configure time and
// reuses it for every CONNECT (and re-CONNECT on reconnect), per spec.md
// §9 REDESIGN FLAGS: "load once at configure time; cache the signer and
// JWT" rather than re-reading the credentials file on every nonce.
type Handshake struct {
	opts   Options
	creds  *Credentials
	signer Signer
	jwtFn  JWTProvider
}

// NewHandshake resolves the auth variant from opts, parsing and caching
// the credentials file contents if present.
func NewHandshake(opts Options) (*Handshake, error) {
	h := &Handshake{opts: opts}

	if len(opts.CredsData) > 0 {
		creds, err := ParseCredentials(opts.CredsData)
		if err != nil {
			return nil, err
		}
		h.creds = creds
		seed := creds.Seed
		h.signer = func(nonce []byte) ([]byte, error) { return SeedSigner(append([]byte(seed+":"), nonce...)) }
		jwt := creds.JWT
		h.jwtFn = func() (string, error) { return jwt, nil }
		return h, nil
	}

	h.signer = opts.SignatureCB
	switch {
	case opts.JWTCallback != nil:
		h.jwtFn = opts.JWTCallback
	case opts.UserJWT != "":
		jwt := opts.UserJWT
		h.jwtFn = func() (string, error) { return jwt, nil }
	}
	return h, nil
}

// usesNKeyFlow reports whether this handshake must satisfy the
// NKEY/JWT validation rules of spec.md §4.G steps 2-3: it applies
// whenever the connection isn't using plain user/pass or bearer-token
// auth.
func (h *Handshake) usesNKeyFlow() bool {
	return h.opts.User == "" && h.opts.Token == ""
}

// Build assembles the CONNECT payload for a given server-presented
// nonce (empty string if the server issued none), applying the
// validation sequence of spec.md §4.G.
func (h *Handshake) Build(nonceB64 string) (*ConnectPayload, error) {
	p := &ConnectPayload{
		Lang:      LangName,
		Version:   Version,
		Verbose:   h.opts.Verbose,
		Pedantic:  h.opts.Pedantic,
		Protocol:  1,
		Name:      h.opts.Name,
		User:      h.opts.User,
		Pass:      h.opts.Pass,
		AuthToken: h.opts.Token,
	}

	if nonceB64 != "" && h.usesNKeyFlow() {
		if h.signer == nil {
			return nil, natserr.New(natserr.CodeSigReq, "server requires a signed nonce but no signer is configured")
		}
		nonce, err := base64.StdEncoding.DecodeString(nonceB64)
		if err != nil {
			return nil, natserr.Wrap(natserr.CodeBadCredentials, "server nonce is not valid base64", err)
		}
		sig, err := h.signer(nonce)
		if err != nil {
			return nil, natserr.Wrap(natserr.CodeBadCredentials, "nonce signing failed", err)
		}
		p.Sig = base64.StdEncoding.EncodeToString(sig)

		if h.opts.NKey == "" && h.jwtFn == nil {
			return nil, natserr.New(natserr.CodeNkeyOrJwtReq, "an NKEY public key or a user JWT is required alongside a nonce signature")
		}
		p.NKey = h.opts.NKey
		if h.jwtFn != nil {
			jwt, err := h.jwtFn()
			if err != nil {
				return nil, natserr.Wrap(natserr.CodeBadCredentials, "failed to resolve user JWT", err)
			}
			p.JWT = jwt
		}
	}

	return p, nil
}
