// Command dkim-milter runs the authentication core as a milter that an MTA
// (Postfix, Sendmail, or a milter-speaking replacement) can invoke to tag
// inbound mail with an Authentication-Results header.
package main

import (
	"bytes"
	"context"
	"flag"
	"log"
	"net"
	"net/textproto"

	"github.com/emersion/go-milter"

	"github.com/mailauth/dkimcore/auth"
	"github.com/mailauth/dkimcore/authres"
	"github.com/mailauth/dkimcore/dkim"
	"github.com/mailauth/dkimcore/message"
)

var (
	listenAddr = flag.String("listen", "127.0.0.1:9542", "address milter protocol socket listens on")
	authservID = flag.String("authserv-id", "dkim-milter", "authserv-id stamped into the Authentication-Results header")
)

func main() {
	flag.Parse()

	ln, err := net.Listen("tcp", *listenAddr)
	if err != nil {
		log.Fatalf("dkim-milter: listen: %v", err)
	}
	log.Printf("dkim-milter: listening on %s", *listenAddr)

	server := milter.Server{
		NewMilter: func() milter.Milter {
			return &session{}
		},
		Actions:  milter.OptAddHeader,
		Protocol: milter.OptNoConnect | milter.OptNoHelo | milter.OptNoMailFrom | milter.OptNoRcptTo,
	}

	if err := server.Serve(ln); err != nil {
		log.Fatalf("dkim-milter: serve: %v", err)
	}
}

// session accumulates one message's headers and body across milter
// callbacks, then runs the auth orchestrator once the body is complete.
type session struct {
	raw  []string // "Name: value" per Header callback, in arrival order
	body bytes.Buffer
}

func (s *session) Connect(host string, family string, port uint16, addr net.IP, m *milter.Modifier) (milter.Response, error) {
	return milter.RespContinue, nil
}

func (s *session) Helo(name string, m *milter.Modifier) (milter.Response, error) {
	return milter.RespContinue, nil
}

func (s *session) MailFrom(from string, m *milter.Modifier) (milter.Response, error) {
	return milter.RespContinue, nil
}

func (s *session) RcptTo(rcptTo string, m *milter.Modifier) (milter.Response, error) {
	return milter.RespContinue, nil
}

func (s *session) Header(name, value string, m *milter.Modifier) (milter.Response, error) {
	s.raw = append(s.raw, name+": "+value)
	return milter.RespContinue, nil
}

func (s *session) Headers(h textproto.MIMEHeader, m *milter.Modifier) (milter.Response, error) {
	return milter.RespContinue, nil
}

func (s *session) BodyChunk(chunk []byte, m *milter.Modifier) (milter.Response, error) {
	s.body.Write(chunk)
	return milter.RespContinue, nil
}

func (s *session) Body(m *milter.Modifier) (milter.Response, error) {
	var buf bytes.Buffer
	for _, line := range s.raw {
		buf.WriteString(line)
		buf.WriteString("\r\n")
	}
	buf.WriteString("\r\n")
	buf.Write(s.body.Bytes())

	msg, err := message.Parse(&buf)
	if err != nil {
		log.Printf("dkim-milter: parsing message: %v", err)
		return milter.RespAccept, nil
	}

	result := auth.Authenticate(context.Background(), msg, &auth.Options{
		Verify: &dkim.VerifyOptions{},
	})

	hdr := renderAuthResults(*authservID, result)
	if err := m.AddHeader("Authentication-Results", hdr); err != nil {
		log.Printf("dkim-milter: adding header: %v", err)
	}

	return milter.RespAccept, nil
}

func renderAuthResults(authservID string, result *auth.AuthResult) string {
	h := &authres.Header{AuthservID: authservID}
	for _, r := range result.DKIM {
		res := authres.Result{Method: "dkim"}
		switch r.Kind {
		case dkim.ResultSuccess:
			res.Value = "pass"
		case dkim.ResultTempFail:
			res.Value = "temperror"
		case dkim.ResultPermFail:
			res.Value = "fail"
		default:
			res.Value = "none"
		}
		if r.SDID != "" {
			res.Props = append(res.Props, authres.Property{Type: "header", Name: "d", Value: r.SDID})
		}
		if r.Selector != "" {
			res.Props = append(res.Props, authres.Property{Type: "header", Name: "s", Value: r.Selector})
		}
		h.Results = append(h.Results, res)
	}
	return authres.Format(h)
}
