package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"outreach-control/internal/crm"
	"outreach-control/internal/tags"
)

var scanTag string

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan the CRM for contacts due a follow-up",
	Long: `Searches the CRM for contacts carrying the given tag and parses
each follow-up tag into its due month, inferring the year. Only
company IDs and domains are printed; addresses never leave the CRM
response.`,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().StringVar(&scanTag, "tag", "", "CRM tag to search for (required)")
	scanCmd.MarkFlagRequired("tag")

	rootCmd.AddCommand(scanCmd)
}

// scanCandidate is one follow-up candidate found in the CRM
type scanCandidate struct {
	ContactID string   `json:"contact_id"`
	CompanyID string   `json:"company_id"`
	Domain    string   `json:"domain"`
	Tags      []string `json:"tags"`
	DueMonth  string   `json:"due_month,omitempty"`
}

func runScan(cmd *cobra.Command, args []string) error {
	e, err := newEnv()
	if err != nil {
		return err
	}
	defer e.cleanup()

	if !e.cfg.IsCRMConfigured() {
		return fmt.Errorf("CRM is not configured (need CRM_BASE_URL and credentials)")
	}

	client := crm.NewClient(&crm.ClientConfig{
		BaseURL:       e.cfg.CRM.BaseURL,
		SessionToken:  e.cfg.CRM.SessionToken,
		LoginEmail:    e.cfg.CRM.LoginEmail,
		LoginPassword: e.cfg.CRM.LoginPassword,
		Timeout:       e.cfg.CRM.Timeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.CRM.Timeout)
	defer cancel()

	contacts, err := client.SearchByTag(ctx, scanTag)
	if err != nil {
		return fmt.Errorf("CRM scan failed: %w", err)
	}

	now := time.Now().UTC()
	candidates := make([]scanCandidate, 0, len(contacts))
	for _, contact := range contacts {
		candidate := scanCandidate{
			ContactID: contact.ID,
			CompanyID: contact.CompanyID,
			Domain:    contact.Domain,
			Tags:      contact.Tags,
		}
		for _, tag := range contact.Tags {
			if followUp, err := tags.Parse(tag, now); err == nil {
				candidate.DueMonth = followUp.Due().Format("2006-01")
				break
			}
		}
		candidates = append(candidates, candidate)
	}

	if e.formatter.JSON() {
		return e.formatter.PrintJSON(map[string]any{
			"tag":        scanTag,
			"count":      len(candidates),
			"candidates": candidates,
		})
	}

	if len(candidates) == 0 {
		e.formatter.PrintInfo("No contacts found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()
	fmt.Fprintln(w, "CONTACT\tCOMPANY\tDOMAIN\tDUE")
	for _, c := range candidates {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.ContactID, c.CompanyID, c.Domain, c.DueMonth)
	}
	return nil
}
