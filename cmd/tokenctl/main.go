// Command tokenctl inspects and checks token proposals
// against a local vault.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"

	"tokenledger/database/pg"
	"tokenledger/env"
	"tokenledger/errors"
	"tokenledger/log"
	"tokenledger/log/rotation"
	"tokenledger/token"
	"tokenledger/token/coinselect"
	"tokenledger/token/validation"
	"tokenledger/vault"
	"tokenledger/vault/boltvault"
	"tokenledger/vault/pgvault"
)

// config vars
var (
	vaultPath = env.String("VAULT_PATH", "tokens.db")
	dbURL     = env.String("DATABASE_URL", "")
	logFile   = env.String("LOG_FILE", "")
	queryLog  = env.Bool("QUERY_LOG", false)
	logSize   = env.Int("LOGSIZE", 5e6) // 5MB
	logCount  = env.Int("LOGCOUNT", 9)
)

// We collect log output in this buffer,
// and display it only when there's an error.
var logbuf bytes.Buffer

const (
	validateUsage = "validate [file]"
	selectUsage   = "select issuer-name issuer-key owner-name owner-key new-owner-name new-owner-key amount"
	balanceUsage  = "balance owner-name owner-key"
)

type command struct {
	f     func(context.Context, []string)
	usage string
}

var commands = map[string]*command{
	"validate": {validateCmd, validateUsage},
	"select":   {selectCmd, selectUsage},
	"balance":  {balanceCmd, balanceUsage},
}

func main() {
	env.Parse()
	var w io.Writer = &logbuf
	if *logFile != "" {
		f := rotation.Create(*logFile, *logSize, *logCount)
		defer f.Close()
		w = io.MultiWriter(&logbuf, f)
	}
	log.SetOutput(w)

	ctx := context.Background()
	defer log.RecoverAndLogError(ctx)

	if len(os.Args) < 2 {
		help(os.Stdout)
		os.Exit(0)
	}
	cmd := commands[os.Args[1]]
	if cmd == nil {
		fmt.Fprintln(os.Stderr, "unknown command:", os.Args[1])
		help(os.Stderr)
		os.Exit(1)
	}
	cmd.f(ctx, os.Args[2:])
}

func validateCmd(ctx context.Context, args []string) {
	var r io.Reader = os.Stdin
	switch len(args) {
	case 0:
	case 1:
		f, err := os.Open(args[0])
		if err != nil {
			fatalln("error:", err)
		}
		defer f.Close()
		r = f
	default:
		fatalln("usage: tokenctl", validateUsage)
	}

	ok, err := validate(r, os.Stdout)
	if err != nil {
		fatalln("error:", err)
	}
	if !ok {
		os.Exit(1)
	}
}

// validate reads a JSON proposal from r and writes the verdict to w.
func validate(r io.Reader, w io.Writer) (ok bool, err error) {
	var p token.Proposal
	err = json.NewDecoder(r).Decode(&p)
	if err != nil {
		return false, errors.Wrap(err, "decode proposal")
	}
	if !p.Kind.Valid() {
		return false, fmt.Errorf("proposal has no valid kind")
	}
	err = validation.Validate(&p)
	if err == nil {
		fmt.Fprintln(w, "accept")
		return true, nil
	}
	for _, v := range validation.Violations(err) {
		fmt.Fprintln(w, v)
	}
	return false, nil
}

func selectCmd(ctx context.Context, args []string) {
	if len(args) != 7 {
		fatalln("usage: tokenctl", selectUsage)
	}
	issuer := parseParty(args[0], args[1])
	owner := parseParty(args[2], args[3])
	newOwner := parseParty(args[4], args[5])
	amount, err := strconv.ParseInt(args[6], 10, 64)
	if err != nil || amount <= 0 {
		fatalln("error: amount must be a positive integer")
	}

	st, closeStore := openStore(ctx)
	defer closeStore()
	pool, err := st.Unspent(ctx, owner, issuer)
	if err != nil {
		fatalln("error:", err)
	}
	sel, err := coinselect.Select(pool, issuer, amount, newOwner, owner)
	if err != nil {
		log.Error(ctx, err)
		fatalln("error:", err, errors.Detail(err))
	}
	log.Printkv(ctx, log.KeyMessage, "selected", "inputs", len(sel.Proposal.Inputs), "total", sel.Total, "change", sel.Change)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(sel.Proposal); err != nil {
		fatalln("error:", err)
	}
}

func balanceCmd(ctx context.Context, args []string) {
	if len(args) != 2 {
		fatalln("usage: tokenctl", balanceUsage)
	}
	owner := parseParty(args[0], args[1])

	st, closeStore := openStore(ctx)
	defer closeStore()
	bal, err := vault.Balances(ctx, st, owner)
	if err != nil {
		fatalln("error:", err)
	}
	printBalances(os.Stdout, bal)
}

func printBalances(w io.Writer, bal map[token.Party]int64) {
	issuers := make([]token.Party, 0, len(bal))
	for p := range bal {
		issuers = append(issuers, p)
	}
	sort.Slice(issuers, func(i, j int) bool { return issuers[i].String() < issuers[j].String() })
	for _, p := range issuers {
		fmt.Fprintf(w, "%s\t%s\t%d\n", p.Name, p.Key, bal[p])
	}
}

// openStore opens the postgres vault when DATABASE_URL is set
// and the bolt vault at VAULT_PATH otherwise.
func openStore(ctx context.Context) (vault.Store, func()) {
	if *dbURL != "" {
		db, err := pg.Open(ctx, *dbURL, *queryLog)
		if err != nil {
			fatalln("error:", err)
		}
		err = pgvault.Migrate(ctx, db)
		if err != nil {
			fatalln("error:", err)
		}
		return pgvault.New(db), func() { db.Close() }
	}
	st, err := boltvault.Open(*vaultPath)
	if err != nil {
		fatalln("error:", err)
	}
	return st, func() { st.Close() }
}

func parseParty(name, key string) token.Party {
	p, err := party(name, key)
	if err != nil {
		fatalln("error:", err)
	}
	return p
}

func party(name, key string) (token.Party, error) {
	p := token.Party{Name: name}
	err := p.Key.UnmarshalText([]byte(key))
	if err != nil {
		return p, errors.Wrapf(err, "key of %s", name)
	}
	if p.IsZero() {
		return p, fmt.Errorf("%s has a zero key", name)
	}
	return p, nil
}

func fatalln(v ...interface{}) {
	io.Copy(os.Stderr, &logbuf)
	fmt.Fprintln(os.Stderr, v...)
	os.Exit(2)
}

func help(w io.Writer) {
	fmt.Fprintln(w, "usage: tokenctl [command] [arguments]")
	fmt.Fprint(w, "\nThe commands are:\n\n")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintln(w, "\t", commands[name].usage)
	}
	fmt.Fprintln(w)
}
