package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"crossledger/cmd/internal/secret"
	"crossledger/gateway/middleware"
	"crossledger/services/lending/client"
)

const (
	defaultAPI     = "http://127.0.0.1:8090"
	envAPI         = "LENDCTL_API"
	envToken       = "LENDCTL_TOKEN"
	envSigningKey  = "LENDCTL_HMAC_SECRET"
	requestTimeout = 15 * time.Second
)

var errUsage = errors.New("usage")

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		usage(stderr)
		return 2
	}
	cmd, ok := commands[args[0]]
	if !ok {
		usage(stderr)
		return 2
	}
	fs := flag.NewFlagSet(args[0], flag.ContinueOnError)
	fs.SetOutput(stderr)
	out, err := cmd(fs, args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		if errors.Is(err, errUsage) {
			fs.Usage()
			return 2
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if out == nil {
		return 0
	}
	if s, ok := out.(string); ok {
		fmt.Fprintln(stdout, s)
		return 0
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

type command func(fs *flag.FlagSet, args []string) (any, error)

var commands = map[string]command{
	"reserves":   reservesCmd,
	"reserve":    reserveCmd,
	"positions":  positionsCmd,
	"health":     healthCmd,
	"simulate":   simulateCmd,
	"deposit":    positionCmd("deposit"),
	"withdraw":   positionCmd("withdraw"),
	"borrow":     positionCmd("borrow"),
	"repay":      repayCmd,
	"collateral": collateralCmd,
	"liquidate":  liquidateCmd,
	"events":     eventsCmd,
	"price":      priceCmd,
	"pause":      pauseCmd,
	"fees":       feesCmd,
	"token":      tokenCmd,
}

func usage(w io.Writer) {
	fmt.Fprintln(w, `Usage: lendctl <command> [flags]

Commands:
  reserves                      list reserves
  reserve     -asset            show one reserve
  positions   -user             list a user's positions
  health      -user             show a user's health factor
  simulate    -user -asset -change-bps
  deposit|withdraw|borrow -user -asset -amount
  repay       [-payer] -user -asset -amount
  collateral  -user -asset -enabled
  liquidate   -liquidator -user -debt-asset -collateral-asset -amount
  events      [-user] [-type] [-limit]
  price       -asset -price            (admin)
  pause       -paused                  (admin)
  fees        -asset -amount           (admin)
  token       -subject [-scopes] [-ttl] [-issuer]

Connection flags: -api, -token, -ca, -insecure (env LENDCTL_API, LENDCTL_TOKEN).`)
}

type connFlags struct {
	api      *string
	token    *string
	caFile   *string
	insecure *bool
}

func addConnFlags(fs *flag.FlagSet) connFlags {
	api := os.Getenv(envAPI)
	if api == "" {
		api = defaultAPI
	}
	return connFlags{
		api:      fs.String("api", api, "lending API base URL"),
		token:    fs.String("token", os.Getenv(envToken), "bearer token (\"-\" prompts without echo)"),
		caFile:   fs.String("ca", "", "PEM file with additional trusted CAs"),
		insecure: fs.Bool("insecure", false, "skip TLS verification"),
	}
}

func (c connFlags) client() (*client.Client, error) {
	token := *c.token
	if token == "-" {
		prompted, err := secret.NewSource("", "API bearer token").Get()
		if err != nil {
			return nil, err
		}
		token = prompted
	}
	return client.NewClient(client.Config{
		BaseURL:         *c.api,
		BearerToken:     token,
		TLSClientCAFile: *c.caFile,
		AllowInsecure:   *c.insecure,
		Timeout:         requestTimeout,
	})
}

func withClient(fs *flag.FlagSet, args []string, conn connFlags, required map[string]*string, fn func(ctx context.Context, c *client.Client) (any, error)) (any, error) {
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	for name, value := range required {
		if strings.TrimSpace(*value) == "" {
			fmt.Fprintf(fs.Output(), "-%s is required\n", name)
			return nil, errUsage
		}
	}
	c, err := conn.client()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	return fn(ctx, c)
}

func reservesCmd(fs *flag.FlagSet, args []string) (any, error) {
	conn := addConnFlags(fs)
	return withClient(fs, args, conn, nil, func(ctx context.Context, c *client.Client) (any, error) {
		return c.ListReserves(ctx)
	})
}

func reserveCmd(fs *flag.FlagSet, args []string) (any, error) {
	conn := addConnFlags(fs)
	asset := fs.String("asset", "", "reserve asset address")
	return withClient(fs, args, conn, map[string]*string{"asset": asset}, func(ctx context.Context, c *client.Client) (any, error) {
		return c.GetReserve(ctx, *asset)
	})
}

func positionsCmd(fs *flag.FlagSet, args []string) (any, error) {
	conn := addConnFlags(fs)
	user := fs.String("user", "", "account address")
	return withClient(fs, args, conn, map[string]*string{"user": user}, func(ctx context.Context, c *client.Client) (any, error) {
		return c.GetPositions(ctx, *user)
	})
}

func healthCmd(fs *flag.FlagSet, args []string) (any, error) {
	conn := addConnFlags(fs)
	user := fs.String("user", "", "account address")
	return withClient(fs, args, conn, map[string]*string{"user": user}, func(ctx context.Context, c *client.Client) (any, error) {
		return c.GetHealth(ctx, *user)
	})
}

func simulateCmd(fs *flag.FlagSet, args []string) (any, error) {
	conn := addConnFlags(fs)
	user := fs.String("user", "", "account address")
	asset := fs.String("asset", "", "asset whose price moves")
	change := fs.Int64("change-bps", 0, "price change in basis points (negative for a drop)")
	return withClient(fs, args, conn, map[string]*string{"user": user, "asset": asset}, func(ctx context.Context, c *client.Client) (any, error) {
		return c.Simulate(ctx, *user, *asset, *change)
	})
}

func positionCmd(action string) command {
	return func(fs *flag.FlagSet, args []string) (any, error) {
		conn := addConnFlags(fs)
		user := fs.String("user", "", "account address")
		asset := fs.String("asset", "", "reserve asset address")
		amount := fs.String("amount", "", "amount in base units")
		required := map[string]*string{"user": user, "asset": asset, "amount": amount}
		return withClient(fs, args, conn, required, func(ctx context.Context, c *client.Client) (any, error) {
			switch action {
			case "deposit":
				return c.Deposit(ctx, *user, *asset, *amount)
			case "withdraw":
				return c.Withdraw(ctx, *user, *asset, *amount)
			default:
				return c.Borrow(ctx, *user, *asset, *amount)
			}
		})
	}
}

func repayCmd(fs *flag.FlagSet, args []string) (any, error) {
	conn := addConnFlags(fs)
	payer := fs.String("payer", "", "paying account (defaults to -user)")
	user := fs.String("user", "", "borrower address")
	asset := fs.String("asset", "", "debt asset address")
	amount := fs.String("amount", "", "amount in base units")
	required := map[string]*string{"user": user, "asset": asset, "amount": amount}
	return withClient(fs, args, conn, required, func(ctx context.Context, c *client.Client) (any, error) {
		repaid, err := c.Repay(ctx, *payer, *user, *asset, *amount)
		if err != nil {
			return nil, err
		}
		return map[string]string{"repaid": repaid}, nil
	})
}

func collateralCmd(fs *flag.FlagSet, args []string) (any, error) {
	conn := addConnFlags(fs)
	user := fs.String("user", "", "account address")
	asset := fs.String("asset", "", "reserve asset address")
	enabled := fs.Bool("enabled", true, "use the asset as collateral")
	return withClient(fs, args, conn, map[string]*string{"user": user, "asset": asset}, func(ctx context.Context, c *client.Client) (any, error) {
		return c.SetCollateral(ctx, *user, *asset, *enabled)
	})
}

func liquidateCmd(fs *flag.FlagSet, args []string) (any, error) {
	conn := addConnFlags(fs)
	liquidator := fs.String("liquidator", "", "liquidator address")
	user := fs.String("user", "", "borrower address")
	debt := fs.String("debt-asset", "", "debt asset to repay")
	collateral := fs.String("collateral-asset", "", "collateral asset to seize")
	amount := fs.String("amount", "", "maximum debt to repay")
	required := map[string]*string{
		"liquidator":       liquidator,
		"user":             user,
		"debt-asset":       debt,
		"collateral-asset": collateral,
		"amount":           amount,
	}
	return withClient(fs, args, conn, required, func(ctx context.Context, c *client.Client) (any, error) {
		return c.Liquidate(ctx, *liquidator, *user, *debt, *collateral, *amount)
	})
}

func eventsCmd(fs *flag.FlagSet, args []string) (any, error) {
	conn := addConnFlags(fs)
	user := fs.String("user", "", "filter by account")
	eventType := fs.String("type", "", "filter by event type")
	limit := fs.Int("limit", 0, "maximum events to return")
	return withClient(fs, args, conn, nil, func(ctx context.Context, c *client.Client) (any, error) {
		return c.Events(ctx, *user, *eventType, *limit)
	})
}

func priceCmd(fs *flag.FlagSet, args []string) (any, error) {
	conn := addConnFlags(fs)
	asset := fs.String("asset", "", "asset address")
	price := fs.String("price", "", "price in quote units")
	return withClient(fs, args, conn, map[string]*string{"asset": asset, "price": price}, func(ctx context.Context, c *client.Client) (any, error) {
		return nil, c.SetPrice(ctx, *asset, *price)
	})
}

func pauseCmd(fs *flag.FlagSet, args []string) (any, error) {
	conn := addConnFlags(fs)
	paused := fs.Bool("paused", true, "engage the protocol pause")
	return withClient(fs, args, conn, nil, func(ctx context.Context, c *client.Client) (any, error) {
		return nil, c.SetPaused(ctx, *paused)
	})
}

func feesCmd(fs *flag.FlagSet, args []string) (any, error) {
	conn := addConnFlags(fs)
	asset := fs.String("asset", "", "reserve asset address")
	amount := fs.String("amount", "", "fee amount to withdraw")
	return withClient(fs, args, conn, map[string]*string{"asset": asset, "amount": amount}, func(ctx context.Context, c *client.Client) (any, error) {
		return nil, c.WithdrawFees(ctx, *asset, *amount)
	})
}

// signingSecret resolves the HMAC key used by the token command.
var signingSecret = func() (string, error) {
	return secret.NewSource(envSigningKey, "API signing secret").Get()
}

func tokenCmd(fs *flag.FlagSet, args []string) (any, error) {
	subject := fs.String("subject", "", "token subject (account address)")
	scopes := fs.String("scopes", "", "comma-separated scopes, e.g. "+middleware.ScopeAdmin)
	issuer := fs.String("issuer", "", "issuer claim")
	ttl := fs.Duration("ttl", time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if strings.TrimSpace(*subject) == "" {
		fmt.Fprintln(fs.Output(), "-subject is required")
		return nil, errUsage
	}
	if *ttl <= 0 {
		return nil, fmt.Errorf("ttl must be positive")
	}
	key, err := signingSecret()
	if err != nil {
		return nil, err
	}
	var scopeList []string
	for _, scope := range strings.Split(*scopes, ",") {
		if trimmed := strings.TrimSpace(scope); trimmed != "" {
			scopeList = append(scopeList, trimmed)
		}
	}
	return middleware.IssueToken(key, *issuer, *subject, scopeList, *ttl)
}
