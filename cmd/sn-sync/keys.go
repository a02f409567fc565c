package main

import (
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/marcus/sn/internal/api"
	"github.com/marcus/sn/internal/serverdb"
)

func runKeys(args []string) {
	if len(args) == 0 {
		printKeysUsage()
		os.Exit(1)
	}

	switch args[0] {
	case "create":
		runKeysCreate(args[1:])
	case "list":
		runKeysList(args[1:])
	case "revoke":
		runKeysRevoke(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown keys command: %s\n", args[0])
		printKeysUsage()
		os.Exit(1)
	}
}

func printKeysUsage() {
	fmt.Fprintln(os.Stderr, `Usage: sn-sync keys <command> [flags]

Commands:
  create  Create an API key, creating the user if needed
  list    List API keys
  revoke  Revoke an API key by id`)
}

func openDB(dbPath string) *serverdb.ServerDB {
	if dbPath == "" {
		cfg, err := api.LoadConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		dbPath = cfg.ServerDBPath
	}
	store, err := serverdb.Open(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: open database: %v\n", err)
		os.Exit(1)
	}
	return store
}

const dbFlagUsage = "path to server.db (default: from SYNC_SERVER_DB_PATH or ./data/server.db)"

func runKeysCreate(args []string) {
	fs := flag.NewFlagSet("keys create", flag.ExitOnError)
	email := fs.String("email", "", "owner email address")
	name := fs.String("name", "", "key name (e.g. laptop)")
	ttl := fs.Duration("ttl", 0, "key lifetime; 0 never expires")
	dbPath := fs.String("db", "", dbFlagUsage)
	fs.Parse(args)

	if *email == "" {
		fmt.Fprintln(os.Stderr, "error: --email is required")
		fs.Usage()
		os.Exit(1)
	}

	store := openDB(*dbPath)
	defer store.Close()

	user, err := store.EnsureUser(*email)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	var expiresAt *time.Time
	if *ttl > 0 {
		t := time.Now().UTC().Add(*ttl)
		expiresAt = &t
	}

	plaintext, ak, err := store.GenerateAPIKey(user.ID, *name, expiresAt)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("created API key for %s\n", user.Email)
	fmt.Printf("  id:    %s\n", ak.ID)
	fmt.Printf("  user:  %s\n", user.ID)
	if ak.Name != "" {
		fmt.Printf("  name:  %s\n", ak.Name)
	}
	fmt.Printf("  key:   %s\n", plaintext)
	fmt.Println("\nSave this key now -- it will not be shown again.")
}

func runKeysList(args []string) {
	fs := flag.NewFlagSet("keys list", flag.ExitOnError)
	email := fs.String("email", "", "only keys of this user")
	dbPath := fs.String("db", "", dbFlagUsage)
	fs.Parse(args)

	store := openDB(*dbPath)
	defer store.Close()

	var userID string
	if *email != "" {
		user, err := store.GetUserByEmail(*email)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		if user == nil {
			fmt.Fprintf(os.Stderr, "error: user not found: %s\n", *email)
			os.Exit(1)
		}
		userID = user.ID
	}

	keys, err := store.ListAPIKeys(userID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tUSER\tPREFIX\tNAME\tLAST USED\tEXPIRES")
	for _, k := range keys {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", k.ID, k.UserID, k.KeyPrefix, k.Name, fmtTime(k.LastUsedAt), fmtTime(k.ExpiresAt))
	}
	tw.Flush()
}

func runKeysRevoke(args []string) {
	fs := flag.NewFlagSet("keys revoke", flag.ExitOnError)
	id := fs.String("id", "", "key id (ak_...)")
	dbPath := fs.String("db", "", dbFlagUsage)
	fs.Parse(args)

	if *id == "" {
		fmt.Fprintln(os.Stderr, "error: --id is required")
		fs.Usage()
		os.Exit(1)
	}

	store := openDB(*dbPath)
	defer store.Close()

	if err := store.RevokeAPIKey(*id); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("revoked %s\n", *id)
}

func fmtTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}
