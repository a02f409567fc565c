package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/marcus/sn/internal/db"
	"github.com/marcus/sn/internal/output"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:     "init",
	Short:   "Create the local store",
	Long:    `Creates the .sn directory and its SQLite store in the current directory.`,
	GroupID: "system",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := getBaseDir()

		if _, err := os.Stat(db.Path(dir)); err == nil {
			output.Warning(".sn/ already exists")
			return nil
		}

		store, err := db.Initialize(dir)
		if err != nil {
			output.Error("failed to initialize database: %v", err)
			return err
		}
		defer store.Close()

		fmt.Println("INITIALIZED .sn/")

		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			addToGitignore(filepath.Join(dir, ".gitignore"))
		}
		return nil
	},
}

func addToGitignore(path string) {
	content, _ := os.ReadFile(path)
	if strings.Contains(string(content), ".sn/") {
		return
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	defer f.Close()

	if len(content) > 0 && !strings.HasSuffix(string(content), "\n") {
		f.WriteString("\n")
	}
	f.WriteString(".sn/\n")
}

func init() {
	rootCmd.AddCommand(initCmd)
}
