package main

import (
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/tallyhq/tally/internal/model"
)

func linkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "link",
		Short: "Manage institution connections",
		Long: `Link bank accounts through the aggregation provider.

Linking is a two-step flow: "link token" produces a token for the
provider's account-selection UI, and "link exchange" turns the resulting
public token into a stored connection with its accounts.`,
	}

	cmd.AddCommand(linkTokenCmd())
	cmd.AddCommand(linkExchangeCmd())
	cmd.AddCommand(linkListCmd())
	cmd.AddCommand(linkPatternCmd())
	cmd.AddCommand(linkDeleteCmd())

	return cmd
}

func linkTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Create a link token for the provider's account-selection UI",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			app, err := initApp(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			client, err := app.providerClient()
			if err != nil {
				return err
			}

			token, err := client.CreateLinkToken(ctx, actingUser())
			if err != nil {
				return fmt.Errorf("failed to create link token: %w", err)
			}

			fmt.Println(token)
			return nil
		},
	}
}

func linkExchangeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exchange [public-token]",
		Short: "Exchange a public token and store the connection",
		Args:  cobra.ExactArgs(1),
		RunE:  runLinkExchange,
	}

	cmd.Flags().String("name", "", "Institution display name")

	return cmd
}

func runLinkExchange(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	userID := actingUser()

	app, err := initApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()

	client, err := app.providerClient()
	if err != nil {
		return err
	}

	accessToken, itemID, err := client.ExchangePublicToken(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to exchange public token: %w", err)
	}

	name, _ := cmd.Flags().GetString("name")
	if name == "" {
		name = itemID
	}

	link := &model.InstitutionLink{
		ID:              uuid.NewString(),
		UserID:          userID,
		InstitutionName: name,
		ProviderItemID:  itemID,
		AccessToken:     accessToken,
		CreatedAt:       time.Now().UTC(),
	}
	if err := app.store.CreateLink(ctx, link); err != nil {
		return fmt.Errorf("failed to store link: %w", err)
	}

	providerAccounts, err := client.GetAccounts(ctx, accessToken)
	if err != nil {
		return fmt.Errorf("failed to list provider accounts: %w", err)
	}

	for _, pa := range providerAccounts {
		subtype := model.AccountSubtype(pa.Subtype)
		if !subtype.Valid() {
			subtype = model.SubtypeDepository
		}
		currency := pa.Currency
		if currency == "" {
			currency = app.cfg.DefaultCurrency
		}

		account := model.NewInstitutionalAccount(link.ID, pa.ProviderAccountID, pa.Name, currency, subtype, pa.Balance)
		if err := app.store.CreateAccount(ctx, account); err != nil {
			return fmt.Errorf("failed to store account %q: %w", pa.Name, err)
		}
		slog.Info("Linked account", "account_id", account.ID, "name", account.Name, "mask", pa.Mask)
	}

	slog.Info("Institution linked", "link_id", link.ID, "institution", name, "accounts", len(providerAccounts))
	return nil
}

func linkListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List institution connections",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			app, err := initApp(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			links, err := app.store.ListLinks(ctx, actingUser())
			if err != nil {
				return err
			}
			if len(links) == 0 {
				slog.Info("No institutions linked")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tInstitution\tSynced\tCreated")
			for i := range links {
				link := &links[i]
				synced := "never"
				if link.Cursor != nil {
					synced = "yes"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					link.ID, link.InstitutionName, synced, link.CreatedAt.Format("2006-01-02"))
			}
			return w.Flush()
		},
	}
}

func linkPatternCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pattern [link-id]",
		Short: "Set or clear the institution's transaction name rewrite",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			app, err := initApp(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			clearPattern, _ := cmd.Flags().GetBool("clear")
			if clearPattern {
				return app.store.SetLinkPattern(ctx, actingUser(), args[0], nil)
			}

			pattern, _ := cmd.Flags().GetString("match")
			replacement, _ := cmd.Flags().GetString("replace")
			return app.store.SetLinkPattern(ctx, actingUser(), args[0], &model.ReplacementPattern{
				Pattern:     pattern,
				Replacement: replacement,
			})
		},
	}

	cmd.Flags().String("match", "", "Regular expression matched against transaction names")
	cmd.Flags().String("replace", "", "Replacement text; $1, $2 reference capture groups")
	cmd.Flags().Bool("clear", false, "Remove the rewrite rule")

	return cmd
}

func linkDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [link-id]",
		Short: "Delete a connection and all of its accounts and transactions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			app, err := initApp(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			if err := app.store.DeleteLink(ctx, actingUser(), args[0]); err != nil {
				return err
			}
			slog.Info("Deleted link", "link_id", args[0])
			return nil
		},
	}
}
