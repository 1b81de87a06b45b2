package main

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/flemzord/reddichat/modules/provider/openai"
	"github.com/flemzord/reddichat/pkg/app"
)

// initAnswers collects what init asks for. Secrets go to .env and the
// config refers to them by variable.
type initAnswers struct {
	Bind         string
	Model        string
	APIKey       string
	Driver       string
	DSN          string
	Storage      string
	Bucket       string
	Region       string
	RedditID     string
	RedditSecret string
	JWTSecret    string
}

func defaultAnswers() initAnswers {
	return initAnswers{
		Bind:    "127.0.0.1:8080",
		Model:   openai.DefaultModel,
		Driver:  "sqlite",
		Storage: "local",
		Region:  "us-east-1",
	}
}

func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a configuration file interactively",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("config")
			if path == "" {
				path = app.DefaultConfigPath()
			}
			force, _ := cmd.Flags().GetBool("force")
			yes, _ := cmd.Flags().GetBool("yes")

			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}

			a := defaultAnswers()
			a.APIKey = os.Getenv("REDDICHAT_API_KEY")
			a.RedditID = os.Getenv("REDDIT_CLIENT_ID")
			a.RedditSecret = os.Getenv("REDDIT_CLIENT_SECRET")
			if !yes {
				if err := askAnswers(&a); err != nil {
					return err
				}
			}
			secret, err := newSecret()
			if err != nil {
				return err
			}
			a.JWTSecret = secret

			if err := writeConfig(path, a); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render("Wrote ")+path)
			fmt.Fprintln(cmd.OutOrStdout(), dimStyle.Render("Secrets are in "+filepath.Join(filepath.Dir(path), ".env")))
			return nil
		},
	}
	cmd.Flags().Bool("force", false, "Overwrite an existing configuration")
	cmd.Flags().BoolP("yes", "y", false, "Accept defaults without prompting")
	return cmd
}

func askAnswers(a *initAnswers) error {
	required := func(s string) error {
		if strings.TrimSpace(s) == "" {
			return errors.New("required")
		}
		return nil
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Listen address").Value(&a.Bind),
			huh.NewInput().Title("Model").Value(&a.Model),
			huh.NewInput().Title("Gemini API key").EchoMode(huh.EchoModePassword).Value(&a.APIKey).Validate(required),
		),
		huh.NewGroup(
			huh.NewSelect[string]().Title("Database").Options(
				huh.NewOption("SQLite (embedded)", "sqlite"),
				huh.NewOption("PostgreSQL", "postgres"),
				huh.NewOption("MySQL", "mysql"),
			).Value(&a.Driver),
			huh.NewSelect[string]().Title("Attachment storage").Options(
				huh.NewOption("Local disk", "local"),
				huh.NewOption("S3 or compatible", "s3"),
				huh.NewOption("Disabled", "none"),
			).Value(&a.Storage),
		),
		huh.NewGroup(
			huh.NewInput().Title("Database DSN").Value(&a.DSN).Validate(required),
		).WithHideFunc(func() bool { return a.Driver == "sqlite" }),
		huh.NewGroup(
			huh.NewInput().Title("S3 bucket").Value(&a.Bucket).Validate(required),
			huh.NewInput().Title("S3 region").Value(&a.Region),
		).WithHideFunc(func() bool { return a.Storage != "s3" }),
		huh.NewGroup(
			huh.NewInput().Title("Reddit client id (empty to skip)").Value(&a.RedditID),
			huh.NewInput().Title("Reddit client secret").EchoMode(huh.EchoModePassword).Value(&a.RedditSecret),
		),
	)
	return form.Run()
}

func newSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// renderConfig builds the YAML config and the .env content for a.
func renderConfig(a initAnswers) (cfg []byte, env string, err error) {
	secrets := map[string]string{
		"REDDICHAT_API_KEY":    a.APIKey,
		"REDDICHAT_JWT_SECRET": a.JWTSecret,
	}

	store := map[string]any{"driver": a.Driver}
	if a.Driver != "sqlite" {
		store["dsn"] = "${REDDICHAT_DATABASE_DSN}"
		secrets["REDDICHAT_DATABASE_DSN"] = a.DSN
	}
	modules := map[string]any{"store.sql": store}
	switch a.Storage {
	case "local":
		modules["storage.local"] = map[string]any{"base_url": "http://" + a.Bind + "/files"}
	case "s3":
		modules["storage.s3"] = map[string]any{"bucket": a.Bucket, "region": a.Region}
	}

	doc := map[string]any{
		"version": "1",
		"server":  map[string]any{"bind": a.Bind},
		"auth":    map[string]any{"jwt_secret": "${REDDICHAT_JWT_SECRET}"},
		"provider": map[string]any{
			"api_key": "${REDDICHAT_API_KEY}",
			"model":   a.Model,
		},
		"modules": modules,
	}
	if a.RedditID != "" {
		doc["reddit"] = map[string]any{
			"client_id":     "${REDDIT_CLIENT_ID}",
			"client_secret": "${REDDIT_CLIENT_SECRET}",
		}
		secrets["REDDIT_CLIENT_ID"] = a.RedditID
		secrets["REDDIT_CLIENT_SECRET"] = a.RedditSecret
	}

	cfg, err = yaml.Marshal(doc)
	if err != nil {
		return nil, "", err
	}
	env, err = godotenv.Marshal(secrets)
	if err != nil {
		return nil, "", err
	}
	return cfg, env + "\n", nil
}

func writeConfig(path string, a initAnswers) error {
	cfg, env, err := renderConfig(a)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(env), 0o600); err != nil {
		return err
	}
	return os.WriteFile(path, cfg, 0o600)
}
