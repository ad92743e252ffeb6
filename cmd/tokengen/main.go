// tokengen signs a credential with JWT_SECRET and prints the three cookie
// values a browser must carry to pass the access gate.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/briangreenhill/inkpot/internal/auth"
	"github.com/briangreenhill/inkpot/internal/config"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Getenv); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer, getenv func(string) string) error {
	var role, id, name string
	var ttl time.Duration

	flagSet := pflag.NewFlagSet("tokengen", pflag.ContinueOnError)
	flagSet.SetOutput(out)
	flagSet.StringVar(&role, "role", string(auth.RoleUser), "credential role: admin or user")
	flagSet.StringVar(&id, "id", "", "user id carried in the token")
	flagSet.StringVar(&name, "name", "", "username carried in the token")
	flagSet.DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	if id == "" || name == "" {
		return errors.New("--id and --name are required")
	}
	if ttl <= 0 {
		return fmt.Errorf("--ttl must be positive, got %s", ttl)
	}
	r := auth.Role(role)
	if r != auth.RoleAdmin && r != auth.RoleUser {
		return fmt.Errorf("unknown role %q", role)
	}

	secret := getenv("JWT_SECRET")
	if secret == "" {
		secret = config.DefaultJWTSecret
	}
	cred, err := auth.Issuer{Secret: []byte(secret)}.Credential(id, name, ttl)
	if err != nil {
		return err
	}

	names := auth.CookiesFor(r)
	fmt.Fprintf(out, "%s=%s\n", names.Token, cred.Token)
	fmt.Fprintf(out, "%s=%s\n", names.ID, cred.ID)
	fmt.Fprintf(out, "%s=%s\n", names.Name, auth.EncodeURI(cred.Name))
	return nil
}
