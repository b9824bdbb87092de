package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/shugur-network/groupcore/internal/account"
	"github.com/shugur-network/groupcore/internal/config"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	cfg     *config.Config
	app     *App
)

// rootCmd is the CLI surface over the lifecycle engine's operations: one
// subcommand per named operation.
var rootCmd = &cobra.Command{
	Use:   "groupcore",
	Short: "groupcore drives an MLS-over-Nostr group lifecycle from the command line",
	Long:  `A thin demo CLI over the group lifecycle engine: accounts, groups, and messages, all backed by local storage and relay I/O.`,
	Example: `
  groupcore create-identity
  groupcore create-group --name book-club --member <pubkey>
  groupcore send-message <mls-group-id-hex> "hello"
  groupcore fetch-messages`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}
		var err error
		cfg, err = config.Load(cfgFile, nil)
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}
		app, err = newApp(cfg)
		if err != nil {
			return fmt.Errorf("wire application: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if app != nil {
			app.Close()
		}
	},
	Run: func(cmd *cobra.Command, args []string) {
		if err := cmd.Help(); err != nil {
			fmt.Fprintf(os.Stderr, "error displaying help: %v\n", err)
		}
	},
}

// Execute runs the root command with ctx propagated to every subcommand.
func Execute(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "path to a config file (optional)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "print version information",
		Run: func(cmd *cobra.Command, args []string) {
			v, c, d := buildInfo()
			fmt.Printf("groupcore %s (commit %s, built %s)\n", v, c, d)
		},
	})

	rootCmd.AddCommand(createIdentityCmd())
	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(accountsCmd())
	rootCmd.AddCommand(activeAccountCmd())
	rootCmd.AddCommand(useAccountCmd())
	rootCmd.AddCommand(logoutCmd())
	rootCmd.AddCommand(onboardingCmd())
	rootCmd.AddCommand(groupsCmd())
	rootCmd.AddCommand(groupCmd())
	rootCmd.AddCommand(createGroupCmd())
	rootCmd.AddCommand(sendMessageCmd())
	rootCmd.AddCommand(fetchMessagesCmd())
}

// createIdentityCmd implements create_identity.
func createIdentityCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create-identity",
		Short: "generate a fresh identity and make it the active account",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.accounts.CreateIdentity()
			if err != nil {
				return err
			}
			printAccount(a)
			return nil
		},
	}
}

// loginCmd implements login.
func loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login <nsec-or-hex-secret>",
		Short: "log in with an existing secret key, creating the account if unknown",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.accounts.Login(args[0])
			if err != nil {
				return err
			}
			printAccount(a)
			return nil
		},
	}
}

// accountsCmd implements get_accounts.
func accountsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "accounts",
		Short: "list every known local account",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, a := range app.accounts.GetAccounts() {
				printAccount(a)
			}
			return nil
		},
	}
}

// activeAccountCmd implements get_active_account.
func activeAccountCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "active-account",
		Short: "show the currently active account",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.accounts.GetActiveAccount()
			if err != nil {
				return err
			}
			printAccount(a)
			return nil
		},
	}
}

// useAccountCmd implements set_active_account.
func useAccountCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use-account <pubkey>",
		Short: "switch the active account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.accounts.SetActiveAccount(args[0])
		},
	}
}

// logoutCmd implements logout.
func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout <pubkey>",
		Short: "clear the active-account pointer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.accounts.Logout(args[0])
		},
	}
}

// onboardingCmd implements update_account_onboarding.
func onboardingCmd() *cobra.Command {
	var inbox, keyRelays []string
	var publish bool
	cmd := &cobra.Command{
		Use:   "update-onboarding <pubkey>",
		Short: "replace an account's onboarding relay preferences",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.accounts.UpdateOnboarding(args[0], account.Onboarding{
				InboxRelays:       inbox,
				KeyPackageRelays:  keyRelays,
				PublishKeyPackage: publish,
			})
			if err != nil {
				return err
			}
			printAccount(a)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&inbox, "inbox-relay", nil, "inbox relay URL (repeatable)")
	cmd.Flags().StringSliceVar(&keyRelays, "key-package-relay", nil, "key-package relay URL (repeatable)")
	cmd.Flags().BoolVar(&publish, "publish-key-package", false, "whether this account publishes a key package")
	return cmd
}

// groupsCmd implements get_groups.
func groupsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "groups",
		Short: "list every known group",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, g := range app.groups.All() {
				fmt.Printf("%s  %-12s  %s  epoch=%d  members=%d\n",
					hex.EncodeToString(g.MLSGroupID), g.GroupType, g.Name, g.Epoch, len(g.Members))
			}
			return nil
		},
	}
}

// groupCmd implements get_group.
func groupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "group <mls-group-id-hex>",
		Short: "show one group's detail, including its transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := hex.DecodeString(args[0])
			if err != nil {
				return fmt.Errorf("decode group id: %w", err)
			}
			g, err := app.groups.ByMLSID(id)
			if err != nil {
				return err
			}
			fmt.Printf("group %s (%s)\n", g.Name, g.NostrGroupID)
			fmt.Printf("  type:    %s\n", g.GroupType)
			fmt.Printf("  epoch:   %d\n", g.Epoch)
			fmt.Printf("  members: %s\n", strings.Join(g.Members, ", "))
			fmt.Printf("  admins:  %s\n", strings.Join(g.Admins, ", "))
			fmt.Printf("  relays:  %s\n", strings.Join(g.RelayURLs, ", "))
			for _, evt := range g.Transcript {
				fmt.Printf("  [%d] %s: %s\n", evt.CreatedAt, evt.PubKey, evt.Content)
			}
			return nil
		},
	}
}

// createGroupCmd implements create_group.
func createGroupCmd() *cobra.Command {
	var name, description string
	var members, admins []string
	cmd := &cobra.Command{
		Use:   "create-group",
		Short: "create a new MLS group and deliver welcomes to its members",
		RunE: func(cmd *cobra.Command, args []string) error {
			active, err := app.accounts.GetActiveAccount()
			if err != nil {
				return err
			}
			g, err := app.engine.CreateGroup(cmd.Context(), active.Pubkey, members, admins, name, description)
			if err != nil {
				return err
			}
			fmt.Printf("created group %s (mls id %s)\n", g.NostrGroupID, hex.EncodeToString(g.MLSGroupID))
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "group name")
	cmd.Flags().StringVar(&description, "description", "", "group description")
	cmd.Flags().StringSliceVar(&members, "member", nil, "member pubkey (repeatable)")
	cmd.Flags().StringSliceVar(&admins, "admin", nil, "admin pubkey, must also be a member or the creator (repeatable)")
	return cmd
}

// sendMessageCmd implements send_mls_message.
func sendMessageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send-message <mls-group-id-hex> <text>",
		Short: "encrypt and publish an application message to a group",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := hex.DecodeString(args[0])
			if err != nil {
				return fmt.Errorf("decode group id: %w", err)
			}
			evt, err := app.engine.SendMessage(cmd.Context(), id, args[1])
			if err != nil {
				return err
			}
			fmt.Printf("sent %s\n", evt.ID)
			return nil
		},
	}
}

// fetchMessagesCmd implements fetch_mls_messages.
func fetchMessagesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch-messages",
		Short: "pull pending welcomes and group messages for the active account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.engine.FetchMessages(cmd.Context())
		},
	}
}

func printAccount(a account.Account) {
	fmt.Printf("%s  known_groups=%d  publish_key_package=%v\n", a.Pubkey, len(a.KnownGroups), a.Onboarding.PublishKeyPackage)
}
