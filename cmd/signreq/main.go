// Command signreq signs a request body with the frontend's private key and
// sends it to the gateway.
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/alecthomas/kong"

	"github.com/stebofarm/gateway/internal/keys"
	"github.com/stebofarm/gateway/internal/signing"
)

type signreqCLI struct {
	URL         string        `arg:"" help:"Gateway URL to send the signed request to."`
	Key         string        `default:"keys/private_key.pem" help:"PEM private key used to sign." env:"SIGNREQ_PRIVATE_KEY"`
	UniqueKey   string        `required:"" help:"Unique key issued to this frontend." env:"SIGNREQ_UNIQUE_KEY"`
	Method      string        `default:"POST" help:"HTTP method."`
	Data        string        `short:"d" help:"Request body." xor:"body"`
	DataFile    string        `type:"existingfile" help:"Read the request body from a file." xor:"body"`
	PayloadFrom string        `help:"Fetch the body to sign from this URL first." xor:"body"`
	Replay      bool          `help:"Send X-Timestamp and X-Nonce and sign the replay-protected payload."`
	Timeout     time.Duration `default:"10s" help:"Overall request timeout."`
}

func main() {
	var cli signreqCLI
	kctx := kong.Parse(&cli,
		kong.Description(`Sign a request body and send it to the gateway.`),
		kong.ShortUsageOnError(),
		kong.HelpOptions{Compact: true, WrapUpperBound: 80},
	)

	ctx, cancel := context.WithTimeout(context.Background(), cli.Timeout)
	defer cancel()

	kctx.FatalIfErrorf(cli.run(ctx, http.DefaultClient, os.Stdout))
}

func (c *signreqCLI) run(ctx context.Context, client *http.Client, out io.Writer) error {
	// A key that cannot be loaded means nothing can be signed; give up
	// before touching the network.
	priv, err := keys.LoadPrivateKey(c.Key)
	if err != nil {
		return err
	}

	var opts []signing.SignerOption
	if c.Replay {
		opts = append(opts, signing.WithReplayHeaders())
	}
	signer, err := signing.NewSigner(priv, c.UniqueKey, opts...)
	if err != nil {
		return err
	}

	body, err := c.body(ctx, client)
	if err != nil {
		return err
	}

	req, err := signer.NewRequest(c.Method, c.URL, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req = req.WithContext(ctx)

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	fmt.Fprintf(out, "Response: %d %s\n", resp.StatusCode, respBody)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("gateway rejected request with status %d", resp.StatusCode)
	}
	return nil
}

// body returns the exact bytes to sign and send.
func (c *signreqCLI) body(ctx context.Context, client *http.Client) ([]byte, error) {
	switch {
	case c.DataFile != "":
		data, err := os.ReadFile(c.DataFile)
		if err != nil {
			return nil, fmt.Errorf("read body file: %w", err)
		}
		return data, nil
	case c.PayloadFrom != "":
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.PayloadFrom, nil)
		if err != nil {
			return nil, fmt.Errorf("build payload request: %w", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("fetch payload: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("fetch payload: status %d", resp.StatusCode)
		}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read payload: %w", err)
		}
		return data, nil
	default:
		return []byte(c.Data), nil
	}
}
