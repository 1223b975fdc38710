package commands

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/jholhewres/zohabot/pkg/zohabot/config"
)

// newSetupCmd creates the `zohabot setup` command, an interactive wizard
// that writes the .env file.
func newSetupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Interactive setup wizard",
		Long: `Ask for the bot name, admin numbers, provider and API keys and write
them to a .env file. API keys can be kept in the OS keyring instead of
the file.

Examples:
  zohabot setup
  zohabot setup --env-file /etc/zohabot/.env`,
		Args: cobra.NoArgs,
		RunE: runSetup,
	}
	cmd.Flags().String("env-file", ".env", "path of the .env file to write")
	return cmd
}

type setupAnswers struct {
	Name          string
	Creator       string
	Admins        string
	Provider      string
	Port          string
	GeminiKey     string
	XAIKey        string
	UseKeyring    bool
	GenerateToken bool
}

func runSetup(cmd *cobra.Command, _ []string) error {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return errors.New("setup needs an interactive terminal; edit .env directly instead")
	}
	envFile, _ := cmd.Flags().GetString("env-file")

	def := config.DefaultConfig()
	a := setupAnswers{
		Name:          def.Bot.Name,
		Creator:       def.Bot.Creator,
		Provider:      def.Provider.Kind,
		Port:          strconv.Itoa(def.Gateway.Port),
		GenerateToken: true,
	}
	keyringOK := config.KeyringAvailable()
	a.UseKeyring = keyringOK

	if err := setupForm(&a, keyringOK).Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			fmt.Println("Setup cancelled.")
			return nil
		}
		return fmt.Errorf("setup: %w", err)
	}

	values := map[string]string{
		"BOT_NAME":      strings.TrimSpace(a.Name),
		"CREATOR":       strings.TrimSpace(a.Creator),
		"ADMIN_NUMBERS": normalizeAdmins(a.Admins),
		"PROVIDER":      a.Provider,
		"PORT":          strings.TrimSpace(a.Port),
	}
	if a.GenerateToken {
		values["AUTH_TOKEN"] = strings.ReplaceAll(uuid.NewString(), "-", "")
	}

	stored, err := storeKeys(&a, values)
	if err != nil {
		return err
	}
	if err := config.WriteEnvFile(envFile, values); err != nil {
		return err
	}

	fmt.Println()
	fmt.Printf("✅ Configuration written to %s\n", envFile)
	for _, k := range stored {
		fmt.Printf("   %s stored in the OS keyring\n", k)
	}
	if tok := values["AUTH_TOKEN"]; tok != "" {
		fmt.Printf("   Gateway token: %s\n", tok)
		fmt.Printf("   Open http://localhost:%s/?token=%s to pair.\n", values["PORT"], tok)
	}
	fmt.Println()
	fmt.Println("Next: zohabot pair   (or zohabot serve and pair from the browser)")
	return nil
}

func setupForm(a *setupAnswers, keyringOK bool) *huh.Form {
	keyFields := []huh.Field{
		huh.NewInput().
			Title("Gemini API key").
			Description("Used for mentions, private chats and .gemini. Leave empty to skip.").
			EchoMode(huh.EchoModePassword).
			Value(&a.GeminiKey),
		huh.NewInput().
			Title("xAI API key (optional)").
			Description("Used by .grok. Without it .grok answers with Gemini.").
			EchoMode(huh.EchoModePassword).
			Value(&a.XAIKey),
	}
	if keyringOK {
		keyFields = append(keyFields, huh.NewConfirm().
			Title("Store API keys in the OS keyring?").
			Description("Keys in the keyring are not written to the .env file.").
			Value(&a.UseKeyring))
	}

	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Bot name").
				Description("Messages mentioning this name get an AI reply.").
				Value(&a.Name).
				Validate(required("bot name")),
			huh.NewInput().
				Title("Creator").
				Value(&a.Creator),
			huh.NewInput().
				Title("Admin numbers").
				Description("Comma separated, with country code. Admins are notified of received media.").
				Placeholder("15550100123, 447700900123").
				Value(&a.Admins),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Provider").
				Options(
					huh.NewOption("WhatsApp (linked device)", config.ProviderWhatsApp),
					huh.NewOption("WhatsApp Web in Chrome", config.ProviderBrowser),
				).
				Value(&a.Provider),
			huh.NewInput().
				Title("Gateway port").
				Value(&a.Port).
				Validate(validPort),
			huh.NewConfirm().
				Title("Protect the gateway with a generated token?").
				Value(&a.GenerateToken),
		),
		huh.NewGroup(keyFields...),
	)
}

// storeKeys moves API keys to the keyring when asked to and records the
// .env values. It returns the names of the keys stored in the keyring.
func storeKeys(a *setupAnswers, values map[string]string) ([]string, error) {
	keys := []struct {
		env, keyring, value string
	}{
		{"GEMINI_API_KEY", config.KeyGemini, strings.TrimSpace(a.GeminiKey)},
		{"XAI_API_KEY", config.KeyXAI, strings.TrimSpace(a.XAIKey)},
	}

	var stored []string
	for _, k := range keys {
		if k.value == "" {
			continue
		}
		if a.UseKeyring {
			if err := config.StoreKeyring(k.keyring, k.value); err != nil {
				return nil, fmt.Errorf("storing %s in keyring: %w", k.env, err)
			}
			// An empty value removes a stale plaintext copy.
			values[k.env] = ""
			stored = append(stored, k.env)
			continue
		}
		values[k.env] = k.value
	}
	return stored, nil
}

func required(what string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", what)
		}
		return nil
	}
}

func validPort(s string) error {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n <= 0 || n > 65535 {
		return errors.New("enter a port between 1 and 65535")
	}
	return nil
}

// normalizeAdmins trims the comma separated list and drops empty entries.
func normalizeAdmins(s string) string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, ",")
}
