package commands

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/rankpulse/crawl"
	"github.com/teranos/rankpulse/sym"
)

// TenantCmd manages tenants and what they track
var TenantCmd = &cobra.Command{
	Use:   "tenant",
	Short: sym.Crawl + " Manage tenants and what they track",
	Long: sym.Crawl + ` tenant - tracked sites and their keywords, pages and competitors.

Examples:
  rankpulse tenant add acme --name "Acme Inc" --domain acme.example
  rankpulse tenant keyword add acme "running shoes"
  rankpulse tenant page add acme https://acme.example/pricing
  rankpulse tenant competitor add acme rival.example
  rankpulse tenant show acme`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var tenantAddCmd = &cobra.Command{
	Use:   "add <tenant-id>",
	Short: "Add a tenant",
	Args:  cobra.ExactArgs(1),
	RunE:  runTenantAdd,
}

var tenantLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List tenants",
	RunE:  runTenantLs,
}

var tenantShowCmd = &cobra.Command{
	Use:   "show <tenant-id>",
	Short: "Show a tenant and what it tracks",
	Args:  cobra.ExactArgs(1),
	RunE:  runTenantShow,
}

var tenantKeywordCmd = &cobra.Command{Use: "keyword", Short: "Manage tracked keywords"}
var tenantPageCmd = &cobra.Command{Use: "page", Short: "Manage watched pages"}
var tenantCompetitorCmd = &cobra.Command{Use: "competitor", Short: "Manage tracked competitors"}

var (
	tenantNameFlag   string
	tenantDomainFlag string
)

func init() {
	tenantAddCmd.Flags().StringVar(&tenantNameFlag, "name", "", "Display name (default: the id)")
	tenantAddCmd.Flags().StringVar(&tenantDomainFlag, "domain", "", "Site domain (required)")
	tenantAddCmd.MarkFlagRequired("domain")

	tenantKeywordCmd.AddCommand(catalogAddCmd("add <tenant-id> <keyword>", "Track a keyword",
		func(c *crawl.SQLCatalog, cmd *cobra.Command, tenantID, value string) error {
			return c.AddKeyword(cmd.Context(), tenantID, value)
		}))
	tenantPageCmd.AddCommand(catalogAddCmd("add <tenant-id> <url>", "Watch a page",
		func(c *crawl.SQLCatalog, cmd *cobra.Command, tenantID, value string) error {
			return c.AddPage(cmd.Context(), tenantID, value)
		}))
	tenantCompetitorCmd.AddCommand(catalogAddCmd("add <tenant-id> <domain>", "Track a competitor domain",
		func(c *crawl.SQLCatalog, cmd *cobra.Command, tenantID, value string) error {
			return c.AddCompetitor(cmd.Context(), tenantID, value)
		}))

	TenantCmd.AddCommand(tenantAddCmd)
	TenantCmd.AddCommand(tenantLsCmd)
	TenantCmd.AddCommand(tenantShowCmd)
	TenantCmd.AddCommand(tenantKeywordCmd)
	TenantCmd.AddCommand(tenantPageCmd)
	TenantCmd.AddCommand(tenantCompetitorCmd)
}

// catalogAddCmd builds the "<kind> add <tenant-id> <value>" commands
func catalogAddCmd(use, short string, add func(*crawl.SQLCatalog, *cobra.Command, string, string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			database, err := openDatabase("")
			if err != nil {
				return err
			}
			defer database.Close()

			catalog := crawl.NewSQLCatalog(database)
			if _, err := catalog.Tenant(cmd.Context(), args[0]); err != nil {
				return err
			}
			if err := add(catalog, cmd, args[0], args[1]); err != nil {
				return err
			}
			pterm.Success.Printfln("%s: added %s", args[0], args[1])
			return nil
		},
	}
}

func runTenantAdd(cmd *cobra.Command, args []string) error {
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	t, err := crawl.NewSQLCatalog(database).AddTenant(cmd.Context(), args[0], tenantNameFlag, tenantDomainFlag)
	if err != nil {
		return err
	}
	pterm.Success.Printfln("Added tenant %s (%s)", t.ID, t.Domain)
	return nil
}

func runTenantLs(cmd *cobra.Command, args []string) error {
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	tenants, err := crawl.NewSQLCatalog(database).ListTenants(cmd.Context())
	if err != nil {
		return err
	}
	return printTenants(tenants)
}

const tenantShowLimit = 10

func runTenantShow(cmd *cobra.Command, args []string) error {
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	ctx := cmd.Context()
	catalog := crawl.NewSQLCatalog(database)
	t, err := catalog.Tenant(ctx, args[0])
	if err != nil {
		return err
	}

	pterm.Printfln("Tenant:   %s (%s)", t.ID, t.Name)
	pterm.Printfln("Domain:   %s", t.Domain)
	pterm.Printfln("Created:  %s", formatTime(t.CreatedAt))

	nKeywords, err := catalog.CountKeywords(ctx, t.ID)
	if err != nil {
		return err
	}
	keywords, err := catalog.ListKeywords(ctx, t.ID, tenantShowLimit)
	if err != nil {
		return err
	}
	pterm.Printfln("\nKeywords (%d):", nKeywords)
	for _, k := range keywords {
		pterm.Printfln("  %s", k.Keyword)
	}

	nPages, err := catalog.CountPages(ctx, t.ID)
	if err != nil {
		return err
	}
	pages, err := catalog.ListPages(ctx, t.ID, tenantShowLimit)
	if err != nil {
		return err
	}
	pterm.Printfln("\nPages (%d):", nPages)
	for _, p := range pages {
		pterm.Printfln("  %s", p.URL)
	}

	nCompetitors, err := catalog.CountCompetitors(ctx, t.ID)
	if err != nil {
		return err
	}
	competitors, err := catalog.ListCompetitors(ctx, t.ID, tenantShowLimit)
	if err != nil {
		return err
	}
	pterm.Printfln("\nCompetitors (%d):", nCompetitors)
	for _, c := range competitors {
		pterm.Printfln("  %s %s", c.Domain, pterm.Gray("("+c.Source+")"))
	}
	return nil
}
