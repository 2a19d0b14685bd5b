package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"opsline/internal/app"
	"opsline/internal/config"
	"opsline/internal/db"
	"opsline/internal/domain"
	"opsline/internal/engine"
	"opsline/internal/migrate"
	"opsline/internal/repo"
	"opsline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "ops",
	Short: "Opsline CLI",
	Long: `Opsline tracks NGO-coordination work items through a gated lifecycle.
- Workspace: your .opsline directory with the database; config lives in the DB.
- Work items: deliverables, reports and tasks that flow draft -> not_started ->
  in_progress -> submitted -> under_review -> approved -> complete, with
  waiting states for NGO and HPG handoffs.
- Evidence: documents attached to items; review decisions drive the item's
  evidence status, and evidence-required items cannot complete without an
  approved evidence trail.
- Approval: items flagged approval-required need a recorded decision before
  they can be approved or completed.
- Bulk ops: set status, reassign, or shift due dates across many items;
  each item succeeds or fails on its own.
- Reminders: poll-based nudges tied to items, marked seen when handled.
- Metrics: due windows, overdue, evidence backlog, workload and at-risk
  partners, scoped by bundle/country/region.
- Event log: diary of changes, view with 'ops log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("OPSLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(itemCmd())
	rootCmd.AddCommand(docCmd())
	rootCmd.AddCommand(remindCmd())
	rootCmd.AddCommand(orgCmd())
	rootCmd.AddCommand(ngoCmd())
	rootCmd.AddCommand(metricsCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(keyCmd())
	rootCmd.AddCommand(serveCmd())
}

func itemCmd() *cobra.Command {
	item := &cobra.Command{
		Use:   "item",
		Short: "Manage work items",
		Long:  "Work items are the units of tracked effort. They move through a gated lifecycle; evidence and approval requirements are enforced at approval and completion.",
	}
	item.AddCommand(itemCreateCmd())
	item.AddCommand(itemListCmd())
	item.AddCommand(itemShowCmd())
	item.AddCommand(itemUpdateCmd())
	item.AddCommand(itemTransitionCmd())
	item.AddCommand(itemApproveCmd())
	item.AddCommand(itemDeleteCmd())
	item.AddCommand(itemBulkCmd())
	return item
}

func itemCreateCmd() *cobra.Command {
	var opts engine.WorkItemCreateOptions
	var deps []string
	var evidenceRequired, approvalRequired bool
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a work item",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			opts.Dependencies = deps
			if cmd.Flags().Changed("evidence-required") {
				opts.EvidenceRequired = &evidenceRequired
			}
			if cmd.Flags().Changed("approval-required") {
				opts.ApprovalRequired = &approvalRequired
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.CreateWorkItem(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "item id (optional, generated if omitted)")
	cmd.Flags().StringVar(&opts.Module, "module", "", "module (programs, grants, compliance, operations)")
	cmd.Flags().StringVar(&opts.Type, "type", "task", "item type")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.NGOID, "ngo", "", "partner NGO id")
	cmd.Flags().StringVar(&opts.DepartmentID, "department", "", "department id")
	cmd.Flags().StringVar(&opts.OwnerUserID, "owner", "", "owner user id")
	cmd.Flags().StringVar(&opts.Priority, "priority", "", "priority (low, medium, high)")
	cmd.Flags().StringVar(&opts.DueDate, "due", "", "due date (RFC3339)")
	cmd.Flags().StringVar(&opts.StartDate, "start", "", "start date (RFC3339)")
	cmd.Flags().StringArrayVar(&deps, "depends-on", []string{}, "dependency item id (repeatable)")
	cmd.Flags().BoolVar(&evidenceRequired, "evidence-required", false, "override evidence gate")
	cmd.Flags().BoolVar(&approvalRequired, "approval-required", false, "override approval gate")
	cmd.Flags().StringVar(&opts.ApproverUserID, "approver", "", "approver user id")
	cmd.Flags().BoolVar(&opts.ExternalVisible, "external", false, "visible to external partners")
	cmd.Flags().StringVar(&opts.TrelloCardID, "trello-card", "", "linked Trello card id")
	_ = cmd.MarkFlagRequired("module")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func itemListCmd() *cobra.Command {
	var f repo.WorkItemFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List work items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListWorkItems(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Module", "Status", "Evidence", "Due", "Owner"})
				for _, w := range items {
					due := ""
					if w.DueDate != nil {
						due = *w.DueDate
					}
					owner := ""
					if w.OwnerUserID != nil {
						owner = *w.OwnerUserID
					}
					tw.AppendRow(table.Row{w.ID, w.Title, w.Module, w.Status, w.EvidenceStatus, due, owner})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Module, "module", "", "module filter")
	cmd.Flags().StringVar(&f.Type, "type", "", "type filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.NGOID, "ngo", "", "NGO filter")
	cmd.Flags().StringVar(&f.DepartmentID, "department", "", "department filter")
	cmd.Flags().StringVar(&f.OwnerUserID, "owner", "", "owner filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max rows (0 for all)")
	return cmd
}

func itemShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a work item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.Repo.GetWorkItem(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	return cmd
}

func itemUpdateCmd() *cobra.Command {
	var title, description, priority, due, start, owner, department, approver, trelloCard string
	var deps []string
	var external bool
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a work item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.WorkItemUpdateOptions{
				ID:      args[0],
				ActorID: viper.GetString("actor-id"),
			}
			if cmd.Flags().Changed("title") {
				opts.Title = &title
			}
			if cmd.Flags().Changed("description") {
				opts.Description = &description
			}
			if cmd.Flags().Changed("priority") {
				opts.Priority = &priority
			}
			if cmd.Flags().Changed("due") {
				opts.DueDate = &due
			}
			if cmd.Flags().Changed("start") {
				opts.StartDate = &start
			}
			if cmd.Flags().Changed("owner") {
				opts.OwnerUserID = &owner
			}
			if cmd.Flags().Changed("department") {
				opts.DepartmentID = &department
			}
			if cmd.Flags().Changed("approver") {
				opts.ApproverUserID = &approver
			}
			if cmd.Flags().Changed("trello-card") {
				opts.TrelloCardID = &trelloCard
			}
			if cmd.Flags().Changed("external") {
				opts.ExternalVisible = &external
			}
			if cmd.Flags().Changed("depends-on") {
				opts.SetDependencies = true
				opts.Dependencies = deps
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.UpdateWorkItem(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&priority, "priority", "", "priority (low, medium, high)")
	cmd.Flags().StringVar(&due, "due", "", "due date (RFC3339, empty clears)")
	cmd.Flags().StringVar(&start, "start", "", "start date (RFC3339, empty clears)")
	cmd.Flags().StringVar(&owner, "owner", "", "owner user id (empty clears)")
	cmd.Flags().StringVar(&department, "department", "", "department id (empty clears)")
	cmd.Flags().StringVar(&approver, "approver", "", "approver user id (empty clears)")
	cmd.Flags().StringVar(&trelloCard, "trello-card", "", "Trello card id (empty clears)")
	cmd.Flags().BoolVar(&external, "external", false, "visible to external partners")
	cmd.Flags().StringArrayVar(&deps, "depends-on", []string{}, "replace dependency set (repeatable)")
	return cmd
}

func itemTransitionCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "transition <id>",
		Short: "Change work item status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.Transition(ctx, id, status, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	cmd.Flags().StringVar(&status, "to", "", "target status")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func itemApproveCmd() *cobra.Command {
	var decision string
	cmd := &cobra.Command{
		Use:   "approve <id>",
		Short: "Record an approval decision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.RecordApprovalDecision(ctx, id, decision, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	cmd.Flags().StringVar(&decision, "decision", "approved", "approved or rejected")
	return cmd
}

func itemDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a work item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteWorkItem(ctx, id, viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

func itemBulkCmd() *cobra.Command {
	var ids []string
	var op, status, owner string
	var deltaDays int
	cmd := &cobra.Command{
		Use:   "bulk",
		Short: "Apply an operation across items",
		Long:  "Each item is processed in its own transaction; failures are reported per id and never abort the batch.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(ids) == 0 {
				return fmt.Errorf("--id required at least once")
			}
			bulkOp := engine.BulkOperation{
				Kind:        op,
				Status:      status,
				OwnerUserID: owner,
				DeltaDays:   deltaDays,
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				results, err := e.ApplyBulk(ctx, ids, bulkOp, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(results)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "OK", "Skipped", "Error"})
				for _, r := range results {
					tw.AppendRow(table.Row{r.ID, r.OK, r.Skipped, r.Error})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringArrayVar(&ids, "id", []string{}, "work item id (repeatable)")
	cmd.Flags().StringVar(&op, "op", "", "set_status, reassign_owner, or bump_due_dates")
	cmd.Flags().StringVar(&status, "status", "", "target status for set_status")
	cmd.Flags().StringVar(&owner, "owner", "", "new owner for reassign_owner (empty unassigns)")
	cmd.Flags().IntVar(&deltaDays, "delta-days", 0, "due date shift for bump_due_dates")
	_ = cmd.MarkFlagRequired("op")
	return cmd
}

func docCmd() *cobra.Command {
	doc := &cobra.Command{
		Use:   "doc",
		Short: "Manage evidence documents",
		Long:  "Documents are the evidence trail. Attach them to items, review them, and the item's evidence status follows the review outcomes.",
	}
	doc.AddCommand(docAttachCmd())
	doc.AddCommand(docReviewCmd())
	doc.AddCommand(docListCmd())
	return doc
}

func docAttachCmd() *cobra.Command {
	var opts engine.DocumentAttachOptions
	cmd := &cobra.Command{
		Use:   "attach <work-item-id>",
		Short: "Attach an evidence document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.WorkItemID = args[0]
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.AttachDocument(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().StringVar(&opts.FileName, "name", "", "file name")
	cmd.Flags().StringVar(&opts.FilePath, "path", "", "opaque storage path")
	cmd.Flags().Int64Var(&opts.FileSize, "size", 0, "file size in bytes")
	cmd.Flags().StringVar(&opts.FileType, "type", "", "file type")
	cmd.Flags().StringVar(&opts.Category, "category", "", "document category")
	cmd.Flags().StringVar(&opts.NGOID, "ngo", "", "partner NGO id")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("path")
	return cmd
}

func docReviewCmd() *cobra.Command {
	var decision, notes string
	cmd := &cobra.Command{
		Use:   "review <document-id>",
		Short: "Review an evidence document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.RecordReview(ctx, id, decision, viper.GetString("actor-id"), notes)
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().StringVar(&decision, "decision", "", "approved or rejected")
	cmd.Flags().StringVar(&notes, "notes", "", "review notes")
	_ = cmd.MarkFlagRequired("decision")
	return cmd
}

func docListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <work-item-id>",
		Short: "List an item's documents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				docs, err := e.Repo.ListWorkItemDocuments(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(docs)
			})
		},
	}
	return cmd
}

func remindCmd() *cobra.Command {
	rem := &cobra.Command{
		Use:   "remind",
		Short: "Manage reminders",
	}
	rem.AddCommand(remindAddCmd())
	rem.AddCommand(remindUpcomingCmd())
	rem.AddCommand(remindSeenCmd())
	return rem
}

func remindAddCmd() *cobra.Command {
	var at, in, user, channel string
	cmd := &cobra.Command{
		Use:   "add <work-item-id>",
		Short: "Schedule a reminder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			remindAt := at
			if remindAt == "" && in != "" {
				d, err := parseOffset(in)
				if err != nil {
					return err
				}
				remindAt = time.Now().UTC().Add(d).Format(time.RFC3339)
			}
			if remindAt == "" {
				return fmt.Errorf("--at or --in required")
			}
			if user == "" {
				user = viper.GetString("actor-id")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				r, err := e.Schedule(ctx, id, user, remindAt, channel)
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "remind at (RFC3339)")
	cmd.Flags().StringVar(&in, "in", "", "offset from now (e.g. 1h, 2d)")
	cmd.Flags().StringVar(&user, "user", "", "user to remind (defaults to actor)")
	cmd.Flags().StringVar(&channel, "channel", "", "delivery channel")
	return cmd
}

func remindUpcomingCmd() *cobra.Command {
	var user string
	var withinHours int
	cmd := &cobra.Command{
		Use:   "upcoming",
		Short: "List upcoming reminders",
		RunE: func(cmd *cobra.Command, args []string) error {
			if user == "" {
				user = viper.GetString("actor-id")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rems, err := e.ListUpcoming(ctx, user, withinHours)
				if err != nil {
					return err
				}
				return printJSONOrTable(rems)
			})
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user id (defaults to actor)")
	cmd.Flags().IntVar(&withinHours, "within-hours", 0, "window in hours (defaults from config)")
	return cmd
}

func remindSeenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seen <reminder-id>",
		Short: "Mark a reminder seen",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				r, err := e.MarkSeen(ctx, id, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	}
	return cmd
}

func orgCmd() *cobra.Command {
	org := &cobra.Command{
		Use:   "org",
		Short: "Manage org units",
	}
	org.AddCommand(orgAddCmd())
	org.AddCommand(orgListCmd())
	return org
}

func orgAddCmd() *cobra.Command {
	var name, parent, lead string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add an org unit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				o, err := e.CreateOrgUnit(ctx, name, parent, lead, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(o)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "unit name")
	cmd.Flags().StringVar(&parent, "parent", "", "parent unit id")
	cmd.Flags().StringVar(&lead, "lead", "", "lead user id")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func orgListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List org units",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				orgs, err := r.ListOrgUnits(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(orgs)
			})
		},
	}
	return cmd
}

func ngoCmd() *cobra.Command {
	ngo := &cobra.Command{
		Use:   "ngo",
		Short: "Manage partner NGOs",
	}
	ngo.AddCommand(ngoAddCmd())
	ngo.AddCommand(ngoListCmd())
	ngo.AddCommand(ngoStatusCmd())
	return ngo
}

func ngoAddCmd() *cobra.Command {
	var n domain.NGO
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a partner NGO",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.RegisterNGO(ctx, n, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&n.ID, "id", "", "NGO id (optional)")
	cmd.Flags().StringVar(&n.Name, "name", "", "NGO name")
	cmd.Flags().StringVar(&n.Status, "status", "", "status (defaults to active)")
	cmd.Flags().StringVar(&n.Bundle, "bundle", "", "bundle")
	cmd.Flags().StringVar(&n.Country, "country", "", "country")
	cmd.Flags().StringVar(&n.Region, "region", "", "region")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func ngoListCmd() *cobra.Command {
	var f repo.NGOFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List partner NGOs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				ngos, err := r.ListNGOs(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(ngos)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Status", "Bundle", "Country", "Region"})
				for _, n := range ngos {
					tw.AppendRow(table.Row{n.ID, n.Name, n.Status, n.Bundle, n.Country, n.Region})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.Bundle, "bundle", "", "bundle filter")
	cmd.Flags().StringVar(&f.Country, "country", "", "country filter")
	cmd.Flags().StringVar(&f.Region, "region", "", "region filter")
	return cmd
}

func ngoStatusCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "set-status <id>",
		Short: "Update a partner's status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				n, err := e.SetNGOStatus(ctx, id, status, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(n)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "active, at-risk, suspended, or exited")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func metricsCmd() *cobra.Command {
	m := &cobra.Command{
		Use:   "metrics",
		Short: "Operational reports",
		Long:  "Scope any report with --bundle/--country/--region/--module/--department. When a geographic scope matches no partner, every report is empty rather than unscoped.",
	}
	m.AddCommand(metricsSnapshotCmd())
	m.AddCommand(metricsWorkloadCmd())
	m.AddCommand(metricsEvidenceCmd())
	m.AddCommand(metricsAtRiskCmd())
	return m
}

func scopeFlags(cmd *cobra.Command, s *engine.MetricsScope) {
	cmd.Flags().StringVar(&s.Bundle, "bundle", "", "bundle scope")
	cmd.Flags().StringVar(&s.Country, "country", "", "country scope")
	cmd.Flags().StringVar(&s.Region, "region", "", "region scope")
	cmd.Flags().StringVar(&s.Module, "module", "", "module scope")
	cmd.Flags().StringVar(&s.DepartmentID, "department", "", "department scope")
	cmd.Flags().StringArrayVar(&s.NGOIDs, "ngo", []string{}, "NGO id scope (repeatable)")
}

func metricsSnapshotCmd() *cobra.Command {
	var scope engine.MetricsScope
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Due windows, overdue, evidence backlog, status breakdown",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				snap, err := e.Snapshot(ctx, scope)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(snap)
				}
				fmt.Printf("Generated: %s\n", snap.GeneratedAt)
				for _, w := range snap.DueWindows {
					fmt.Printf("Due in %dd: %d\n", w.Days, w.Count)
				}
				fmt.Printf("Overdue: %d\n", snap.Overdue)
				fmt.Printf("Evidence pending: %d\n", snap.EvidencePending)
				fmt.Printf("At-risk NGOs: %d\n", snap.AtRiskNGOs)
				fmt.Println("By status:")
				for status, c := range snap.ByStatus {
					fmt.Printf("  %s: %d\n", status, c)
				}
				return nil
			})
		},
	}
	scopeFlags(cmd, &scope)
	return cmd
}

func metricsWorkloadCmd() *cobra.Command {
	var scope engine.MetricsScope
	cmd := &cobra.Command{
		Use:   "workload",
		Short: "Active items by department",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rows, err := e.Workload(ctx, scope)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rows)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Department", "Count"})
				for _, row := range rows {
					tw.AppendRow(table.Row{row.Department, row.Count})
				}
				tw.Render()
				return nil
			})
		},
	}
	scopeFlags(cmd, &scope)
	return cmd
}

func metricsEvidenceCmd() *cobra.Command {
	var scope engine.MetricsScope
	var limit int
	cmd := &cobra.Command{
		Use:   "evidence",
		Short: "Items awaiting evidence approval, soonest due first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.EvidencePending(ctx, scope, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Evidence", "Due"})
				for _, w := range items {
					due := ""
					if w.DueDate != nil {
						due = *w.DueDate
					}
					tw.AppendRow(table.Row{w.ID, w.Title, w.Status, w.EvidenceStatus, due})
				}
				tw.Render()
				return nil
			})
		},
	}
	scopeFlags(cmd, &scope)
	cmd.Flags().IntVar(&limit, "limit", 0, "max rows (defaults to config page cap)")
	return cmd
}

func metricsAtRiskCmd() *cobra.Command {
	var scope engine.MetricsScope
	var limit int
	cmd := &cobra.Command{
		Use:   "at-risk",
		Short: "At-risk partners in scope",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ngos, err := e.AtRiskNGOs(ctx, scope, limit)
				if err != nil {
					return err
				}
				return printJSONOrTable(ngos)
			})
		},
	}
	scopeFlags(cmd, &scope)
	cmd.Flags().IntVar(&limit, "limit", 0, "max rows (defaults to config page cap)")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened: item changes, reviews, reminders, and more.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.LatestEvents(ctx, n, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
		Long:  "Config is the rulebook (stored in DB): gating defaults per item type, reporting windows, and reminder defaults. Import from opsline.yml if desired.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configImportCmd())
	cfg.AddCommand(configExportCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
	return cmd
}

func configImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import config from YAML into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(filePath)
			if err != nil {
				return err
			}
			cfg, err := config.FromYAML(data)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.Repo.UpsertWorkspaceConfig(ctx, cfg); err != nil {
					return err
				}
				return printJSONOrTable(cfg)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func configExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export stored config as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				data, err := e.Config.ToYAML()
				if err != nil {
					return err
				}
				fmt.Print(string(data))
				return nil
			})
		},
	}
	return cmd
}

func keyCmd() *cobra.Command {
	key := &cobra.Command{
		Use:   "key",
		Short: "Manage API keys",
	}
	key.AddCommand(keyCreateCmd())
	key.AddCommand(keyListCmd())
	key.AddCommand(keyRevokeCmd())
	return key
}

func keyCreateCmd() *cobra.Command {
	var actor, name, secret string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actor == "" {
				actor = viper.GetString("actor-id")
			}
			if secret == "" {
				return fmt.Errorf("--secret required")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				key := domain.APIKey{
					ID:      uuid.New().String(),
					ActorID: actor,
					Name:    name,
					KeyHash: repo.HashAPIKey(secret),
				}
				if err := r.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				return printJSONOrTable(key)
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "acting user for the key (defaults to actor-id)")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	cmd.Flags().StringVar(&secret, "secret", "", "key secret (stored hashed)")
	return cmd
}

func keyListCmd() *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(keys)
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "filter by acting user")
	return cmd
}

func keyRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, id)
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			r := repo.Repo{DB: conn}
			cfg, err := app.ResolveConfig(cmd.Context(), workspace, r)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("OPSLINE_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("OPSLINE_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Opsline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	cfg, err := app.ResolveConfig(ctx, workspace, r)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseOffset accepts Go durations plus a day suffix (2d -> 48h).
func parseOffset(in string) (time.Duration, error) {
	if strings.HasSuffix(in, "d") {
		days := strings.TrimSuffix(in, "d")
		d, err := time.ParseDuration(days + "h")
		if err != nil {
			return 0, fmt.Errorf("invalid offset %q", in)
		}
		return d * 24, nil
	}
	d, err := time.ParseDuration(in)
	if err != nil {
		return 0, fmt.Errorf("invalid offset %q", in)
	}
	return d, nil
}
