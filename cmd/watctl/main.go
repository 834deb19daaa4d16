package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rmedgar/nekowat/internal/catalog"
	"github.com/rmedgar/nekowat/internal/wat"
	"github.com/rmedgar/nekowat/internal/wat/gate"
	"github.com/rmedgar/nekowat/internal/wat/index"
	"github.com/rmedgar/nekowat/internal/whitelist"
	"github.com/rmedgar/nekowat/pkg/config"
	"github.com/rmedgar/nekowat/pkg/logger"
	"github.com/rmedgar/nekowat/pkg/postgres"
	"github.com/rmedgar/nekowat/pkg/proto"
	"github.com/rmedgar/nekowat/pkg/rpc"
)

// watctl is an operator CLI for nekowat. Query commands talk to a running
// nekowatd over RPC; ingest and whitelist commands write to PostgreSQL
// directly (a running daemon picks whitelist rows up on restart, catalog
// rows on restart or via the change feed when ingesting through the API).
//
// Usage:
//
//	watctl match     --user 123 --q "happy cat" [--mode single|ranked]
//	watctl authorize --user 123
//	watctl whitelist --user <owner-id>
//	watctl stats     --user <owner-id> [--top 10]
//	watctl ingest    --file wats.json
//	watctl allow     --user 123 [--name "somebody"]
//	watctl deny      --user 123
func main() {
	addr := flag.String("addr", "localhost:9000", "nekowatd rpc address")
	configPath := flag.String("config", "configs/development.yaml", "path to config file (postgres commands)")
	timeout := flag.Duration("timeout", 5*time.Second, "dial timeout")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	switch args[0] {
	case "match":
		cmdMatch(dial(*addr, *timeout), args[1:])
	case "authorize":
		cmdAuthorize(dial(*addr, *timeout), args[1:])
	case "whitelist":
		cmdWhitelist(dial(*addr, *timeout), args[1:])
	case "stats":
		cmdStats(dial(*addr, *timeout), args[1:])
	case "ingest":
		cmdIngest(connect(*configPath), args[1:])
	case "allow":
		cmdAllow(connect(*configPath), args[1:])
	case "deny":
		cmdDeny(connect(*configPath), args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func dial(addr string, timeout time.Duration) *rpc.Client {
	client, err := rpc.Dial(addr, timeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to %s: %v\n", addr, err)
		os.Exit(1)
	}
	return client
}

func connect(configPath string) *postgres.Client {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup("warn", cfg.Logging.Format)

	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to postgres: %v\n", err)
		os.Exit(1)
	}
	return db
}

func cmdMatch(client *rpc.Client, args []string) {
	defer client.Close()
	fs := flag.NewFlagSet("match", flag.ExitOnError)
	user := fs.Int64("user", 0, "user id to match as")
	q := fs.String("q", "", "expression to match")
	mode := fs.String("mode", "single", "single or ranked")
	fs.Parse(args)

	if *user == 0 {
		fmt.Fprintln(os.Stderr, "error: --user is required")
		os.Exit(1)
	}

	var resp proto.MatchResponse
	err := client.Call(proto.MethodMatch, proto.MatchRequest{
		UserID:     *user,
		Expression: *q,
		Mode:       *mode,
	}, &resp)
	if err != nil {
		fmt.Fprintf(os.Stderr, "match failed: %v\n", err)
		os.Exit(1)
	}

	if len(resp.WATs) == 0 {
		fmt.Println("No match.")
		return
	}
	kind := "matched"
	if resp.Wildcard {
		kind = "wildcard"
	}
	fmt.Printf("%d result(s) (%s, %.2fms)\n\n", len(resp.WATs), kind, resp.TookMs)
	for _, w := range resp.WATs {
		fmt.Printf("  %-16s  %-24s  tags: %v\n", w.ID, w.Name, w.Tags)
	}
}

func cmdAuthorize(client *rpc.Client, args []string) {
	defer client.Close()
	fs := flag.NewFlagSet("authorize", flag.ExitOnError)
	user := fs.Int64("user", 0, "user id to check")
	fs.Parse(args)

	if *user == 0 {
		fmt.Fprintln(os.Stderr, "error: --user is required")
		os.Exit(1)
	}

	var resp proto.AuthorizeResponse
	if err := client.Call(proto.MethodAuthorize, proto.AuthorizeRequest{UserID: *user}, &resp); err != nil {
		fmt.Fprintf(os.Stderr, "authorize failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("user %d: authorized=%v owner=%v\n", *user, resp.Authorized, resp.Owner)
}

func cmdWhitelist(client *rpc.Client, args []string) {
	defer client.Close()
	fs := flag.NewFlagSet("whitelist", flag.ExitOnError)
	user := fs.Int64("user", 0, "requesting user id (must be the owner)")
	fs.Parse(args)

	if *user == 0 {
		fmt.Fprintln(os.Stderr, "error: --user is required")
		os.Exit(1)
	}

	var resp proto.WhitelistListResponse
	if err := client.Call(proto.MethodWhitelistList, proto.WhitelistListRequest{UserID: *user}, &resp); err != nil {
		fmt.Fprintf(os.Stderr, "whitelist failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("whitelist enforcement: %v\n", resp.Enabled)
	if len(resp.Entries) == 0 {
		fmt.Println("No entries.")
		return
	}
	fmt.Printf("%-16s  %-24s  %s\n", "User ID", "Name", "Added")
	for _, e := range resp.Entries {
		fmt.Printf("%-16d  %-24s  %s\n", e.UserID, e.Name, e.AddedAt.Format(time.RFC3339))
	}
	fmt.Printf("\nTotal: %d entries\n", len(resp.Entries))
}

func cmdStats(client *rpc.Client, args []string) {
	defer client.Close()
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	userID := fs.Int64("user", 0, "requesting user id (must be the owner)")
	top := fs.Int("top", 10, "how many top expressions to show")
	fs.Parse(args)

	var resp proto.StatsResponse
	if err := client.Call(proto.MethodStats, proto.StatsRequest{UserID: *userID, TopN: *top}, &resp); err != nil {
		fmt.Fprintf(os.Stderr, "stats failed: %v\n", err)
		os.Exit(1)
	}

	out, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "encoding stats: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(out))
}

type ingestRecord struct {
	ID      string   `json:"id,omitempty"`
	Name    string   `json:"name"`
	FileIDs []string `json:"file_ids"`
	Tags    []string `json:"tags"`
}

func cmdIngest(db *postgres.Client, args []string) {
	defer db.Close()
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	file := fs.String("file", "", "JSON file with an array of wats")
	fs.Parse(args)

	if *file == "" {
		fmt.Fprintln(os.Stderr, "error: --file is required")
		os.Exit(1)
	}
	data, err := os.ReadFile(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reading %s: %v\n", *file, err)
		os.Exit(1)
	}
	var records []ingestRecord
	if err := json.Unmarshal(data, &records); err != nil {
		fmt.Fprintf(os.Stderr, "parsing %s: %v\n", *file, err)
		os.Exit(1)
	}

	// The service normalizes tags and derives missing ids; the throwaway
	// index only backs duplicate detection within this run.
	svc := catalog.NewService(index.New(), catalog.WithStore(catalog.NewStore(db)))
	ctx := context.Background()
	var ok, failed int
	for _, r := range records {
		added, err := svc.Add(ctx, &wat.WAT{
			ID:      r.ID,
			Name:    r.Name,
			FileIDs: r.FileIDs,
			Tags:    r.Tags,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "  skip %q: %v\n", r.Name, err)
			failed++
			continue
		}
		fmt.Printf("  %s  %s\n", added.ID, added.Name)
		ok++
	}
	fmt.Printf("\nIngested %d wat(s), %d skipped.\n", ok, failed)
}

func cmdAllow(db *postgres.Client, args []string) {
	defer db.Close()
	fs := flag.NewFlagSet("allow", flag.ExitOnError)
	user := fs.Int64("user", 0, "user id to whitelist")
	name := fs.String("name", "", "display name (optional)")
	fs.Parse(args)

	if *user == 0 {
		fmt.Fprintln(os.Stderr, "error: --user is required")
		os.Exit(1)
	}

	store := whitelist.NewStore(db)
	err := store.Put(context.Background(), gate.Entry{
		UserID:  *user,
		Name:    *name,
		AddedAt: time.Now().UTC(),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to whitelist user: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("user %d whitelisted (takes effect on daemon restart)\n", *user)
}

func cmdDeny(db *postgres.Client, args []string) {
	defer db.Close()
	fs := flag.NewFlagSet("deny", flag.ExitOnError)
	user := fs.Int64("user", 0, "user id to remove")
	fs.Parse(args)

	if *user == 0 {
		fmt.Fprintln(os.Stderr, "error: --user is required")
		os.Exit(1)
	}

	store := whitelist.NewStore(db)
	if err := store.Delete(context.Background(), *user); err != nil {
		fmt.Fprintf(os.Stderr, "failed to remove user: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("user %d removed (takes effect on daemon restart)\n", *user)
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "Usage: watctl [--addr host:port] [--config path] <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands (RPC, against a running nekowatd):")
	fmt.Fprintln(os.Stderr, "  match      Match an expression to reaction images")
	fmt.Fprintln(os.Stderr, "  authorize  Check a user's standing with the access gate")
	fmt.Fprintln(os.Stderr, "  whitelist  List whitelist entries (owner only)")
	fmt.Fprintln(os.Stderr, "  stats      Show usage statistics (owner only)")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands (direct PostgreSQL):")
	fmt.Fprintln(os.Stderr, "  ingest     Load a catalog JSON file into the database")
	fmt.Fprintln(os.Stderr, "  allow      Add a whitelist row")
	fmt.Fprintln(os.Stderr, "  deny       Remove a whitelist row")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Examples:")
	fmt.Fprintln(os.Stderr, `  watctl match --user 123 --q "happy cat" --mode ranked`)
	fmt.Fprintln(os.Stderr, `  watctl ingest --file wats.json`)
	fmt.Fprintln(os.Stderr, `  watctl allow --user 123 --name "somebody"`)
}
