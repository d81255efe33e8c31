package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/kursadbilgin/notification-ledger/internal/domain"
	"github.com/spf13/cobra"
)

func newTemplatesCommand(open Opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "List and switch message templates",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List templates",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withAdmin(cmd, open, func(ctx context.Context, admin Admin) error {
					templates, err := admin.ListTemplates(ctx)
					if err != nil {
						return fmt.Errorf("list templates: %w", err)
					}

					w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
					fmt.Fprintf(w, "ID\tNAME\tACTIVE\n")
					for _, t := range templates {
						fmt.Fprintf(w, "%s\t%s\t%t\n", t.ID, t.Name, t.Active)
					}
					return w.Flush()
				})
			},
		},
		newTemplateSwitchCommand(open, "toggle", "Flip a template between enabled and disabled", nil),
		newTemplateSwitchCommand(open, "enable", "Enable a template", boolPtr(true)),
		newTemplateSwitchCommand(open, "disable", "Disable a template", boolPtr(false)),
	)
	return cmd
}

// newTemplateSwitchCommand toggles when active is nil and sets it otherwise.
func newTemplateSwitchCommand(open Opener, use, short string, active *bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <template-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdmin(cmd, open, func(ctx context.Context, admin Admin) error {
				var (
					template *domain.Template
					err      error
				)
				if active == nil {
					template, err = admin.ToggleTemplate(ctx, args[0])
				} else {
					template, err = admin.SetTemplateActive(ctx, args[0], *active)
				}
				if err != nil {
					return fmt.Errorf("%s template: %w", use, err)
				}

				state := "disabled"
				if template.Active {
					state = "enabled"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Template %s is now %s\n", template.ID, state)
				return nil
			})
		},
	}
}

func boolPtr(v bool) *bool { return &v }
