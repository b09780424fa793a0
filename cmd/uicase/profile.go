package main

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

const defaultProfile = "default"

type profile struct {
	BaseURL string `yaml:"baseUrl"`
	Token   string `yaml:"token,omitempty"`
}

// profileStore is ~/.uicase/config.yaml: named server profiles plus the one
// commands use when --profile and UICASE_PROFILE are unset.
type profileStore struct {
	Current  string             `yaml:"currentProfile"`
	Profiles map[string]profile `yaml:"profiles"`

	path string
}

func storePath() string {
	if dir := strings.TrimSpace(os.Getenv("UICASE_CONFIG_DIR")); dir != "" {
		return filepath.Join(dir, "config.yaml")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".uicase", "config.yaml")
	}
	return "config.yaml"
}

// openStore reads the profile file; a missing file is an empty store.
func openStore() (*profileStore, error) {
	s := &profileStore{path: storePath(), Profiles: map[string]profile{}}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return s, err
	}
	if err := yaml.Unmarshal(data, s); err != nil {
		return s, fmt.Errorf("parse %s: %w", s.path, err)
	}
	if s.Profiles == nil {
		s.Profiles = map[string]profile{}
	}
	return s, nil
}

// save writes the store owner-only since it holds bearer tokens.
func (s *profileStore) save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o600)
}

// activeName picks the profile: flag, then UICASE_PROFILE, then the stored
// current profile, then "default".
func (s *profileStore) activeName(flag string) string {
	for _, v := range []string{flag, os.Getenv("UICASE_PROFILE"), s.Current} {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return defaultProfile
}

func (s *profileStore) names() []string {
	names := make([]string, 0, len(s.Profiles))
	for n := range s.Profiles {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

func initCmd(profileFlag *string, ui *ui) *cobra.Command {
	var (
		baseURL  string
		token    string
		noPrompt bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Save a server profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			name := store.activeName(*profileFlag)
			p := store.Profiles[name]
			baseURL = firstNonEmpty(baseURL, p.BaseURL, "http://localhost:8000")
			token = firstNonEmpty(token, p.Token)

			if !noPrompt {
				in := bufio.NewReader(os.Stdin)
				baseURL = ask(in, "uicase server URL", baseURL)
				if token == "" {
					if token, err = askSecret(in, "Bearer token (blank for none)"); err != nil {
						return err
					}
				}
			}

			store.Profiles[name] = profile{BaseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"), Token: strings.TrimSpace(token)}
			if store.Current == "" || *profileFlag != "" {
				store.Current = name
			}
			if err := store.save(); err != nil {
				return err
			}
			fmt.Printf("%s profile %q saved to %s %s\n", ui.ok("[OK]"), name, store.path, ui.dim("token "+maskToken(token)))
			return nil
		},
	}
	cmd.Flags().StringVar(&baseURL, "base-url", "", "uicase server URL")
	cmd.Flags().StringVar(&token, "token", "", "bearer token")
	cmd.Flags().BoolVar(&noPrompt, "no-prompt", false, "take values from flags only")
	return cmd
}

func profileCmd(ui *ui) *cobra.Command {
	cmd := &cobra.Command{Use: "profile", Short: "List, switch or remove saved profiles"}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Show saved profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			if len(store.Profiles) == 0 {
				fmt.Println(ui.dim("no profiles; run `uicase init`"))
				return nil
			}
			active := store.activeName("")
			for _, n := range store.names() {
				marker := " "
				if n == active {
					marker = ui.ok("*")
				}
				p := store.Profiles[n]
				fmt.Printf("%s %-12s %s %s\n", marker, n, p.BaseURL, ui.dim(maskToken(p.Token)))
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "use <name>",
		Short: "Make a profile the default",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			if _, ok := store.Profiles[args[0]]; !ok {
				return fmt.Errorf("no profile %q (have: %s)", args[0], strings.Join(store.names(), ", "))
			}
			store.Current = args[0]
			if err := store.save(); err != nil {
				return err
			}
			fmt.Printf("%s now using %q\n", ui.ok("[OK]"), args[0])
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "remove <name>",
		Short: "Delete a saved profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			if _, ok := store.Profiles[args[0]]; !ok {
				return fmt.Errorf("no profile %q", args[0])
			}
			delete(store.Profiles, args[0])
			if store.Current == args[0] {
				store.Current = ""
			}
			return store.save()
		},
	})
	return cmd
}

func ask(in *bufio.Reader, label, def string) string {
	if def == "" {
		fmt.Printf("%s: ", label)
	} else {
		fmt.Printf("%s [%s]: ", label, def)
	}
	line, _ := in.ReadString('\n')
	if line = strings.TrimSpace(line); line != "" {
		return line
	}
	return def
}

// askSecret reads without echo on a terminal and falls back to a plain line
// read when stdin is piped.
func askSecret(in *bufio.Reader, label string) (string, error) {
	fmt.Printf("%s: ", label)
	defer fmt.Println()
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, _ := in.ReadString('\n')
		return strings.TrimSpace(line), nil
	}
	b, err := term.ReadPassword(fd)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

func maskToken(v string) string {
	switch v = strings.TrimSpace(v); {
	case v == "":
		return "<unset>"
	case len(v) <= 8:
		return "****"
	default:
		return v[:4] + "..." + v[len(v)-4:]
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
