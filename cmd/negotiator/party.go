package main

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/tome-gg/negotiation-protocols/pkg/auth"
	"github.com/tome-gg/negotiation-protocols/pkg/client"
	"github.com/tome-gg/negotiation-protocols/pkg/negotiation"
)

const requestTimeout = 30 * time.Second

// partyFlags are shared by the commands that talk to a server as a party.
type partyFlags struct {
	server  string
	keyFile string
	json    bool
}

func (p *partyFlags) register(cmd *flag.FlagSet) {
	server := os.Getenv("NEGOTIATOR_URL")
	if server == "" {
		server = "http://localhost:8080"
	}
	cmd.StringVar(&p.server, "server", server, "Server base URL (env NEGOTIATOR_URL)")
	cmd.StringVar(&p.keyFile, "key", os.Getenv("NEGOTIATOR_KEY"), "Party key file (env NEGOTIATOR_KEY)")
	cmd.BoolVar(&p.json, "json", false, "Output result as JSON")
}

func (p *partyFlags) client() (*client.Client, error) {
	if p.keyFile == "" {
		return nil, fmt.Errorf("--key is required")
	}
	priv, err := auth.LoadKeyFile(p.keyFile)
	if err != nil {
		return nil, err
	}
	return client.New(p.server, client.WithKey(priv)), nil
}

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func fail(stderr io.Writer, err error) int {
	_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
	return 1
}

func runKeygenCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("keygen", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var (
		out    string
		master string
		label  string
		force  bool
	)
	cmd.StringVar(&out, "out", "", "Where to write the key file (REQUIRED)")
	cmd.StringVar(&master, "master", "", "Derive from this master key file instead of generating")
	cmd.StringVar(&label, "label", "", "Derivation label, required with --master")
	cmd.BoolVar(&force, "force", false, "Overwrite an existing key file")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if out == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --out is required")
		return 2
	}
	if _, err := os.Stat(out); err == nil && !force {
		_, _ = fmt.Fprintf(stderr, "Error: %s exists (use --force to overwrite)\n", out)
		return 2
	}

	var (
		priv ed25519.PrivateKey
		err  error
	)
	if master != "" {
		var root ed25519.PrivateKey
		if root, err = auth.LoadKeyFile(master); err != nil {
			return fail(stderr, err)
		}
		priv, err = auth.DeriveKey(root.Seed(), label)
	} else {
		priv, err = auth.GenerateKey()
	}
	if err != nil {
		return fail(stderr, err)
	}
	if err := auth.WriteKeyFile(out, priv); err != nil {
		return fail(stderr, err)
	}
	_, _ = fmt.Fprintln(stdout, auth.IdentityOf(priv).String())
	return 0
}

func runSetupCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("setup", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var pf partyFlags
	pf.register(cmd)
	counterparty := cmd.String("counterparty", "", "Counterparty identity, hex (REQUIRED)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	cp, err := negotiation.ParseIdentity(*counterparty)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: --counterparty: %v\n", err)
		return 2
	}
	c, err := pf.client()
	if err != nil {
		return fail(stderr, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	view, err := c.Setup(ctx, cp)
	if err != nil {
		return fail(stderr, err)
	}
	if pf.json {
		printJSON(stdout, view)
	} else {
		_, _ = fmt.Fprintln(stdout, view.ID)
	}
	return 0
}

// parseEvents parses "accept:stake,propose:term" into an event mask.
func parseEvents(s string) (negotiation.Mask, error) {
	var events []negotiation.Event
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		action, element, ok := strings.Cut(part, ":")
		if !ok {
			return 0, fmt.Errorf("event %q: want action:element", part)
		}
		a, err := negotiation.ParseAction(action)
		if err != nil {
			return 0, err
		}
		e, err := negotiation.ParseElement(element)
		if err != nil {
			return 0, err
		}
		events = append(events, negotiation.Event{Action: a, Element: e})
	}
	return negotiation.Encode(events...), nil
}

func parseIdentityFlag(name, v string) (*negotiation.Identity, error) {
	if v == "" {
		return nil, nil
	}
	id, err := negotiation.ParseIdentity(v)
	if err != nil {
		return nil, fmt.Errorf("--%s: %w", name, err)
	}
	return &id, nil
}

func runProposeCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("propose", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var pf partyFlags
	pf.register(cmd)
	var (
		id          string
		events      string
		protocol    string
		term        string
		altProtocol string
		altTerm     string
		parameters  string
		stake       int64
		expectTurn  uint64
		idemKey     string
	)
	cmd.StringVar(&id, "id", "", "Negotiation id (REQUIRED)")
	cmd.StringVar(&events, "events", "", "Comma separated action:element pairs, e.g. accept:stake,propose:term")
	cmd.StringVar(&protocol, "protocol", "", "Protocol identifier, hex")
	cmd.StringVar(&term, "term", "", "Term identifier, hex")
	cmd.StringVar(&altProtocol, "alt-protocol", "", "Alternate protocol identifier, hex")
	cmd.StringVar(&altTerm, "alt-term", "", "Alternate term identifier, hex")
	cmd.StringVar(&parameters, "parameters", "", "Parameters, 32 bytes hex")
	cmd.Int64Var(&stake, "stake", -1, "Stake amount (omit to leave unchanged)")
	cmd.Uint64Var(&expectTurn, "expect-turn", 0, "Fail unless the negotiation is at this turn")
	cmd.StringVar(&idemKey, "idempotency-key", "", "Replay key for safe retries")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if id == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --id is required")
		return 2
	}

	p, err := buildProposal(events, protocol, term, altProtocol, altTerm, parameters, stake)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	var opts []client.ProposeOption
	if expectTurn > 0 {
		opts = append(opts, client.ExpectTurn(expectTurn))
	}
	if idemKey != "" {
		opts = append(opts, client.IdempotencyKey(idemKey))
	}

	c, err := pf.client()
	if err != nil {
		return fail(stderr, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	res, err := c.Propose(ctx, id, p, opts...)
	if err != nil {
		return fail(stderr, err)
	}
	if pf.json {
		printJSON(stdout, res)
		return 0
	}
	_, _ = fmt.Fprintf(stdout, "turn %d applied (%s)\n", res.Transition.Turn, res.Transition.Hash)
	if res.Record.IsComplete {
		_, _ = fmt.Fprintln(stdout, "negotiation complete")
		if res.Settlement != "" {
			_, _ = fmt.Fprintf(stdout, "settlement %s\n", res.Settlement)
		}
	}
	return 0
}

func buildProposal(events, protocol, term, altProtocol, altTerm, parameters string, stake int64) (negotiation.Proposal, error) {
	var (
		p   negotiation.Proposal
		err error
	)
	if p.Events, err = parseEvents(events); err != nil {
		return p, err
	}
	if p.Protocol, err = parseIdentityFlag("protocol", protocol); err != nil {
		return p, err
	}
	if p.Term, err = parseIdentityFlag("term", term); err != nil {
		return p, err
	}
	if p.AltProtocol, err = parseIdentityFlag("alt-protocol", altProtocol); err != nil {
		return p, err
	}
	if p.AltTerm, err = parseIdentityFlag("alt-term", altTerm); err != nil {
		return p, err
	}
	if parameters != "" {
		if err := p.Parameters.UnmarshalText([]byte(parameters)); err != nil {
			return p, fmt.Errorf("--parameters: %w", err)
		}
	}
	if stake >= 0 {
		p.Stake = negotiation.WithStake(stake)
	}
	return p, nil
}

func runGetCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("get", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var pf partyFlags
	pf.register(cmd)
	id := cmd.String("id", "", "Negotiation id (REQUIRED)")
	transitions := cmd.Bool("transitions", false, "Show the receipts instead of the record")
	verify := cmd.Bool("verify", false, "Ask the server to verify the receipts")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if *id == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --id is required")
		return 2
	}
	c, err := pf.client()
	if err != nil {
		return fail(stderr, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	switch {
	case *verify:
		res, err := c.Verify(ctx, *id)
		if err != nil {
			return fail(stderr, err)
		}
		printJSON(stdout, res)
		if !res.Verified {
			return 1
		}
	case *transitions:
		res, err := c.Transitions(ctx, *id)
		if err != nil {
			return fail(stderr, err)
		}
		printJSON(stdout, res)
	default:
		view, err := c.Get(ctx, *id)
		if err != nil {
			return fail(stderr, err)
		}
		if pf.json {
			printJSON(stdout, view)
			return 0
		}
		_, _ = fmt.Fprintf(stdout, "%s turn %d %s\n", view.ID, view.Turn, view.State)
		for _, e := range view.Elements {
			_, _ = fmt.Fprintf(stdout, "  %-10s %-10s %s\n", e.Element, e.Maturity, e.Display)
		}
	}
	return 0
}

func runListCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("list", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var pf partyFlags
	pf.register(cmd)
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	c, err := pf.client()
	if err != nil {
		return fail(stderr, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	views, err := c.List(ctx)
	if err != nil {
		return fail(stderr, err)
	}
	if pf.json {
		printJSON(stdout, views)
		return 0
	}
	for _, v := range views {
		_, _ = fmt.Fprintf(stdout, "%s turn %d %s\n", v.ID, v.Turn, v.State)
	}
	return 0
}

func runHealthCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("health", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	url := cmd.String("url", "http://localhost:8081/health", "Health endpoint")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	hc := &http.Client{Timeout: 5 * time.Second}
	resp, err := hc.Get(*url)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Health check failed: %v\n", err)
		return 1
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = fmt.Fprintf(stderr, "Health check failed: status %d\n", resp.StatusCode)
		return 1
	}
	_, _ = fmt.Fprintln(stdout, "OK")
	return 0
}
