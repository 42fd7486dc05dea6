package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/calebgardner/trackd/internal/models"
	"github.com/calebgardner/trackd/internal/output"
	"github.com/calebgardner/trackd/internal/store"
)

var (
	issueStatus   string
	issuePriority string
	issueArchived string
)

var issueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Inspect tracked issues",
	Long:  "Read-only views of tracked issues. Mutations go through the API, where authorization and lifecycle rules apply.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueListRun()
	},
}

var issueListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List issues",
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueListRun()
	},
}

var issueShowCmd = &cobra.Command{
	Use:   "show <issue-id>",
	Short: "Show issue details and comments",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueShowRun(args[0])
	},
}

func init() {
	issueListCmd.Flags().StringVar(&issueStatus, "status", "", "Filter by status: open, in_progress, resolved")
	issueListCmd.Flags().StringVar(&issuePriority, "priority", "", "Filter by priority: low, medium, high")
	issueListCmd.Flags().StringVar(&issueArchived, "archived", "", "Filter by archived: true, false")

	issueCmd.AddCommand(issueListCmd)
	issueCmd.AddCommand(issueShowCmd)
	rootCmd.AddCommand(issueCmd)
}

func issueListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	filter := store.IssueListFilter{
		Status:   models.IssueStatus(issueStatus),
		Priority: models.IssuePriority(issuePriority),
	}
	if issueArchived != "" {
		archived, err := strconv.ParseBool(issueArchived)
		if err != nil {
			return fmt.Errorf("invalid --archived value: %s", issueArchived)
		}
		filter.Archived = &archived
	}

	issues, err := s.ListIssues(ctx, filter)
	if err != nil {
		return err
	}

	if len(issues) == 0 {
		ui.Info("No issues found.")
		return nil
	}

	// Resolve usernames once per user for display
	usernames := make(map[string]string)
	lookup := func(id string) string {
		if id == "" {
			return "-"
		}
		if name, ok := usernames[id]; ok {
			return name
		}
		name := shortID(id)
		if u, err := s.GetUser(ctx, id); err == nil {
			name = u.Username
		}
		usernames[id] = name
		return name
	}

	table := ui.Table([]string{"ID", "Title", "Status", "Priority", "Reporter", "Assignee", "Archived"})
	for _, issue := range issues {
		archivedStr := ""
		if issue.Archived {
			archivedStr = output.Red("yes")
		}
		_ = table.Append([]string{
			shortID(issue.ID),
			issue.Title,
			output.StatusColor(string(issue.Status)),
			output.PriorityColor(string(issue.Priority)),
			lookup(issue.ReporterID),
			lookup(issue.AssigneeID),
			archivedStr,
		})
	}
	_ = table.Render()
	return nil
}

func issueShowRun(id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	issue, err := s.GetIssue(ctx, id)
	if err != nil {
		return err
	}

	fmt.Fprintf(ui.Out, "%s %s\n", output.Cyan(shortID(issue.ID)), issue.Title)
	fmt.Fprintf(ui.Out, "  Status:   %s\n", output.StatusColor(string(issue.Status)))
	fmt.Fprintf(ui.Out, "  Priority: %s\n", output.PriorityColor(string(issue.Priority)))
	if issue.Archived {
		fmt.Fprintf(ui.Out, "  Archived: %s\n", output.Red("yes"))
	}
	if reporter, err := s.GetUser(ctx, issue.ReporterID); err == nil {
		fmt.Fprintf(ui.Out, "  Reporter: %s\n", reporter.Username)
	}
	if issue.AssigneeID != "" {
		if assignee, err := s.GetUser(ctx, issue.AssigneeID); err == nil {
			fmt.Fprintf(ui.Out, "  Assignee: %s\n", assignee.Username)
		}
	}
	fmt.Fprintf(ui.Out, "  Created:  %s\n", issue.CreatedAt.Local().Format("2006-01-02 15:04"))
	fmt.Fprintf(ui.Out, "  Updated:  %s\n", issue.UpdatedAt.Local().Format("2006-01-02 15:04"))
	if issue.Description != "" {
		fmt.Fprintf(ui.Out, "\n%s\n", issue.Description)
	}

	comments, err := s.ListComments(ctx, issue.ID)
	if err != nil {
		return err
	}
	if len(comments) > 0 {
		fmt.Fprintf(ui.Out, "\nComments:\n")
		for _, c := range comments {
			author := shortID(c.AuthorID)
			if u, err := s.GetUser(ctx, c.AuthorID); err == nil {
				author = u.Username
			}
			fmt.Fprintf(ui.Out, "  %s %s: %s\n",
				c.CreatedAt.Local().Format("2006-01-02 15:04"), output.Cyan(author), c.Content)
		}
	}
	return nil
}
