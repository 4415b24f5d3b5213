// Command dkim-authcheck reads a single RFC 5322 message from stdin,
// authenticates it, and prints the result as JSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"

	"github.com/mailauth/dkimcore/auth"
	"github.com/mailauth/dkimcore/dkim"
	"github.com/mailauth/dkimcore/dmarc"
	"github.com/mailauth/dkimcore/message"
)

var (
	dmarcEnable = flag.Bool("dmarc", false, "consult DMARC when no sign rule matches")
	arhRead     = flag.Bool("arh", false, "ingest trusted Authentication-Results headers")
)

func main() {
	flag.Parse()

	msg, err := message.Parse(os.Stdin)
	if err != nil {
		log.Fatalf("dkim-authcheck: parsing message: %v", err)
	}

	opts := &auth.Options{
		Verify:         &dkim.VerifyOptions{},
		DMARCEnable:    *dmarcEnable,
		DMARCThreshold: dmarc.ThresholdNone,
		ARHRead:        *arhRead,
	}

	result := auth.Authenticate(context.Background(), msg, opts)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		log.Fatalf("dkim-authcheck: encoding result: %v", err)
	}
}
