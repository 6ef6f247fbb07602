// Command keygen provisions the deployment's RSA-2048 signing keypair.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/alecthomas/kong"

	"github.com/stebofarm/gateway/internal/keys"
)

type keygenCLI struct {
	Dir     string `default:"keys" help:"Directory to write the key files into."`
	Private string `default:"private_key.pem" help:"Private key file name."`
	Public  string `default:"public_key.pem" help:"Public key file name."`
	Force   bool   `help:"Overwrite existing key files."`
}

func main() {
	var cli keygenCLI
	kctx := kong.Parse(&cli,
		kong.Description(`Generate the RSA-2048 keypair used to sign and verify requests.`),
		kong.ShortUsageOnError(),
		kong.HelpOptions{Compact: true, WrapUpperBound: 80},
	)
	kctx.FatalIfErrorf(cli.run(os.Stdout))
}

func (c *keygenCLI) run(out io.Writer) error {
	privatePath := filepath.Join(c.Dir, c.Private)
	publicPath := filepath.Join(c.Dir, c.Public)

	if !c.Force {
		for _, path := range []string{privatePath, publicPath} {
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists; pass --force to overwrite", path)
			} else if !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("stat %s: %w", path, err)
			}
		}
	}

	if err := os.MkdirAll(c.Dir, 0o700); err != nil {
		return fmt.Errorf("create key directory: %w", err)
	}

	kp, err := keys.Generate()
	if err != nil {
		return err
	}
	if err := keys.Save(kp, privatePath, publicPath); err != nil {
		return err
	}

	fmt.Fprintf(out, "keys generated: %s and %s\n", privatePath, publicPath)
	return nil
}
