package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/kamusis/symsvg/internal/catalogue"
	"github.com/kamusis/symsvg/internal/render"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show cached and pending symbols without rendering",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	path, err := cfg.CataloguePath()
	if err != nil {
		return err
	}
	doc, err := catalogue.Load(path, cfg.Key)
	if err != nil {
		return err
	}
	printStatus(doc)
	return nil
}

// categoryCount tallies one category of the catalogue.
type categoryCount struct {
	name    string
	cached  int
	pending int
}

func countCategories(cat catalogue.Catalogue) []categoryCount {
	out := make([]categoryCount, 0, len(cat))
	for name, entries := range cat {
		c := categoryCount{name: name}
		for _, e := range entries {
			if e.Cached() {
				c.cached++
			} else {
				c.pending++
			}
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

func printStatus(doc *catalogue.Document) {
	printSection("Catalogue")
	printInfo("", doc.Path)

	printSection("Categories")
	for _, c := range countCategories(doc.Symbols) {
		msg := fmt.Sprintf("%d cached, %d pending", c.cached, c.pending)
		if c.pending == 0 {
			printOK(c.name, msg)
		} else {
			printWarn(c.name, msg)
		}
	}

	jobs := render.WorkSet(doc.Symbols)
	printSection("Pending")
	if len(jobs) == 0 {
		printSkip("", "nothing to render")
		return
	}
	for _, j := range jobs {
		printInfo(j.Category, fmt.Sprintf("%s  %s", j.Entry.Name, j.Entry.Source))
	}
}
