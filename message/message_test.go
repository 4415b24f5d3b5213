package message

import (
	"errors"
	"strings"
	"testing"
)

const rfc6376A2 = "DKIM-Signature: v=1; a=rsa-sha256; s=brisbane; d=example.com;\r\n" +
	"      c=simple/simple; q=dns/txt; i=joe@football.example.com;\r\n" +
	"      h=Received : From : To : Subject : Date : Message-ID;\r\n" +
	"      bh=2jUSOH9NhtVGCQWNr9BrIAPreKQjO6Sn7XIkfJVOzv8=;\r\n" +
	"      b=AuUoFEfDxTDkHlLXSZEpZj79LICEps6eda7W3deTVFOk4yAUoqOB\r\n" +
	"        4nujc7YopdG5dWLSdNg6xNAZpOPr+zzYtI4kM9+fdlLVvKyxc1w3vNXAx4\r\n" +
	"        AhTOs+B0G1GhwLwI4jT8AOLimqhvwIcMcU42dRxaOuoIHOjA/kM8xNqmM\r\n" +
	"        XjAcj4NzB2VG9K3Yf4a1n5j7\r\n" +
	"Received: from client1.football.example.com  [192.0.2.1]\r\n" +
	"      by submitserver.example.com with SUBMISSION;\r\n" +
	"      Fri, 11 Jul 2003 21:01:54 -0700 (PDT)\r\n" +
	"From: Joe SixPack <joe@football.example.com>\r\n" +
	"To: Suzie Q <suzie@shopping.example.net>\r\n" +
	"Subject: Is dinner ready?\r\n" +
	"Date: Fri, 11 Jul 2003 21:00:37 -0700 (PDT)\r\n" +
	"Message-ID: <20030712040037.46341.5F8J@football.example.com>\r\n" +
	"\r\n" +
	"Hi.\r\n" +
	"\r\n" +
	"We lost the game. Are you hungry yet?\r\n" +
	"\r\n" +
	"Joe.\r\n"

func TestParseRFC6376Example(t *testing.T) {
	msg, err := Parse(strings.NewReader(rfc6376A2))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if got := msg.From(); got != "joe@football.example.com" {
		t.Errorf("From() = %q, want joe@football.example.com", got)
	}

	sigs := msg.RawHeader("DKIM-Signature")
	if len(sigs) != 1 {
		t.Fatalf("len(RawHeader(DKIM-Signature)) = %d, want 1", len(sigs))
	}

	if !strings.HasSuffix(string(msg.Body()), "Joe.\r\n") {
		t.Errorf("Body() = %q, want suffix Joe.\\r\\n", msg.Body())
	}
}

func TestHeaderPickerBottomUp(t *testing.T) {
	raw := "From: a@b.example\r\nA: 1\r\nA: 2\r\nA: 3\r\n\r\nbody\r\n"
	msg, err := Parse(strings.NewReader(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	p := msg.HeaderPicker()
	if got := p.Pick("a"); got != "A: 3\r\n" {
		t.Errorf("first Pick = %q, want A: 3", got)
	}
	if got := p.Pick("a"); got != "A: 2\r\n" {
		t.Errorf("second Pick = %q, want A: 2", got)
	}
	if got := p.Pick("a"); got != "A: 1\r\n" {
		t.Errorf("third Pick = %q, want A: 1", got)
	}
	if got := p.Pick("a"); got != "" {
		t.Errorf("fourth Pick = %q, want empty", got)
	}
}

func TestParseMalformedHeaderName(t *testing.T) {
	raw := "Bad Name: value\r\n\r\nbody\r\n"
	if _, err := Parse(strings.NewReader(raw)); !errors.Is(err, ErrMalformed) {
		t.Errorf("Parse() err = %v, want ErrMalformed", err)
	}
}

func TestParseNoFrom(t *testing.T) {
	raw := "To: nobody@example.com\r\n\r\nbody\r\n"
	if _, err := Parse(strings.NewReader(raw)); err != ErrNoFrom {
		t.Errorf("Parse() err = %v, want ErrNoFrom", err)
	}
}

func TestExtractFromAddressOnly(t *testing.T) {
	raw := "From: joe@football.example.com\r\n\r\nbody\r\n"
	msg, err := Parse(strings.NewReader(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := msg.From(); got != "joe@football.example.com" {
		t.Errorf("From() = %q", got)
	}
}

func TestNormalizeEOL(t *testing.T) {
	raw := "From: a@b.example\r\n\r\nline1\nline2\r\n"
	msg, err := Parse(strings.NewReader(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := string(msg.Body()); got != "line1\r\nline2\r\n" {
		t.Errorf("Body() = %q, want CRLF-normalized", got)
	}
}
