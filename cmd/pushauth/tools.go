package main

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/layer-3/pushauth/adapters/tokenizer"
	"github.com/layer-3/pushauth/core"
	"github.com/layer-3/pushauth/internal/config"
	"github.com/layer-3/pushauth/sdk"
	"github.com/urfave/cli/v2"
)

func tokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "issue an owner access token",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "owner", Required: true},
			&cli.DurationFlag{Name: "ttl", Value: 24 * time.Hour},
			&cli.StringFlag{Name: "signing-key", Required: true, EnvVars: []string{config.EnvSigningKey}},
		},
		Action: func(c *cli.Context) error {
			key, err := config.LoadSigningKey(config.Config{SigningKeyPath: c.String("signing-key")})
			if err != nil {
				return err
			}
			token, err := tokenizer.NewJWTTokenizer(key).OwnerToToken(c.String("owner"), c.Duration("ttl"))
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(c.App.Writer, token)
			return err
		},
	}
}

func keygenCommand() *cli.Command {
	return &cli.Command{
		Name:  "keygen",
		Usage: "generate a PEM P-256 key for token signing or a device",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Usage: "write to file instead of stdout"},
		},
		Action: func(c *cli.Context) error {
			key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
			if err != nil {
				return fmt.Errorf("key generation failed: %w", err)
			}
			data, err := config.EncodeSigningKey(key)
			if err != nil {
				return err
			}
			if out := c.String("out"); out != "" {
				return os.WriteFile(out, data, 0o600)
			}
			_, err = c.App.Writer.Write(data)
			return err
		},
	}
}

func signTransactionCommand() *cli.Command {
	return &cli.Command{
		Name:  "sign-transaction",
		Usage: "build a signed transaction request for an application",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "app-id", Required: true},
			&cli.StringFlag{Name: "secret", Required: true, Usage: "application secret key"},
			&cli.StringFlag{Name: "client-ip", Required: true},
			&cli.StringFlag{Name: "user", Required: true},
			&cli.StringFlag{Name: "geo-location"},
		},
		Action: func(c *cli.Context) error {
			req, err := sdk.NewTransactionRequest(c.String("app-id"), c.String("secret"), c.String("client-ip"), c.String("user"))
			if err != nil {
				return err
			}
			req.GeoLocation = c.String("geo-location")
			return writeJSON(c.App.Writer, req)
		},
	}
}

func signRegistrationCommand() *cli.Command {
	return &cli.Command{
		Name:  "sign-registration",
		Usage: "build a device registration body",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "device-id", Required: true},
			&cli.StringFlag{Name: "secret", Required: true, Usage: "device provisioning key"},
			&cli.StringFlag{Name: "device-token", Required: true},
			&cli.StringFlag{Name: "device-key", Required: true, Usage: "PEM P-256 device key"},
		},
		Action: func(c *cli.Context) error {
			key, err := loadDeviceKey(c.String("device-key"))
			if err != nil {
				return err
			}
			reg, err := sdk.SignRegistration(c.String("device-id"), c.String("secret"), c.String("device-token"), &key.PublicKey)
			if err != nil {
				return err
			}
			return writeJSON(c.App.Writer, reg)
		},
	}
}

func signResultCommand() *cli.Command {
	return &cli.Command{
		Name:  "sign-result",
		Usage: "build a device-signed authentication result",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "device-key", Required: true, Usage: "PEM P-256 device key"},
			&cli.StringFlag{Name: "transaction-id", Required: true},
			&cli.BoolFlag{Name: "result"},
			&cli.StringFlag{Name: "fingerprint"},
			&cli.StringFlag{Name: "actual-client-ip"},
			&cli.BoolFlag{Name: "client-ip-match"},
			&cli.StringFlag{Name: "server-ip"},
			&cli.StringFlag{Name: "server-uri"},
		},
		Action: func(c *cli.Context) error {
			key, err := loadDeviceKey(c.String("device-key"))
			if err != nil {
				return err
			}
			res := &sdk.Result{
				TransactionID:          c.String("transaction-id"),
				Result:                 c.Bool("result"),
				CertificateFingerprint: c.String("fingerprint"),
				ActualClientIP:         c.String("actual-client-ip"),
				ClientIPMatch:          c.Bool("client-ip-match"),
				ServerIP:               c.String("server-ip"),
				ServerURI:              c.String("server-uri"),
			}
			if err := sdk.SignResult(rand.Reader, key, res); err != nil {
				return err
			}
			return writeJSON(c.App.Writer, res)
		},
	}
}

func verifyResultCommand() *cli.Command {
	return &cli.Command{
		Name:  "verify-result",
		Usage: "verify a result payload with the application secret",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "secret", Required: true, Usage: "application secret key"},
			&cli.StringFlag{Name: "file", Usage: "payload file, stdin when empty"},
			&cli.StringSliceFlag{Name: "allow-server-ip"},
			&cli.StringSliceFlag{Name: "allow-server-uri"},
			&cli.StringSliceFlag{Name: "allow-fingerprint"},
		},
		Action: func(c *cli.Context) error {
			var in io.Reader = os.Stdin
			if path := c.String("file"); path != "" {
				f, err := os.Open(path)
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			var payload core.VerifiableResult
			if err := json.NewDecoder(in).Decode(&payload); err != nil {
				return fmt.Errorf("failed to decode payload: %w", err)
			}

			allow := sdk.AllowList{
				ServerIPs:    c.StringSlice("allow-server-ip"),
				ServerURIs:   c.StringSlice("allow-server-uri"),
				Fingerprints: c.StringSlice("allow-fingerprint"),
			}
			strict := len(allow.ServerIPs)+len(allow.ServerURIs)+len(allow.Fingerprints) > 0

			valid := sdk.VerifyResult(c.String("secret"), &payload)
			if strict {
				valid = sdk.VerifyResultStrict(c.String("secret"), &payload, allow)
			}
			if !valid {
				return cli.Exit("invalid", 1)
			}
			_, err := fmt.Fprintln(c.App.Writer, "valid")
			return err
		},
	}
}

func loadDeviceKey(path string) (*ecdsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading device key %q: %w", path, err)
	}
	key, err := config.ParseSigningKey(data)
	if err != nil {
		return nil, fmt.Errorf("device key %q: %w", path, err)
	}
	return key, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
