package verifier

import (
	"fmt"
	"slices"
	"strings"

	"github.com/10gen/mongo-external-sync/internal/model"
	"github.com/10gen/mongo-external-sync/internal/reportutils"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
)

// Summary renders the discrepancy counts of the last Execute as tables:
// one row per reconciled namespace, then the totals by kind.
func (r *Run) Summary() string {
	strBuilder := &strings.Builder{}

	kinds := lo.Map(
		model.DiscrepancyKinds,
		func(k model.DiscrepancyKind, _ int) string { return string(k) },
	)

	if len(r.perNamespace) == 0 {
		strBuilder.WriteString("No collection digests differed.\n")
	} else {
		namespaces := lo.Keys(r.perNamespace)
		slices.SortFunc(namespaces, func(a, b model.Namespace) int {
			return strings.Compare(a.String(), b.String())
		})

		table := tablewriter.NewWriter(strBuilder)
		table.SetHeader(append([]string{"Namespace"}, kinds...))

		for _, ns := range namespaces {
			stats := r.perNamespace[ns]

			table.Append(append(
				[]string{ns.String()},
				lo.Map(kinds, func(k string, _ int) string {
					return reportutils.FmtCount(stats[k])
				})...,
			))
		}

		table.Render()
	}

	totals := model.NewVerificationStatistics()
	for _, stats := range r.perNamespace {
		totals.Merge(stats)
	}

	totalsTable := tablewriter.NewWriter(strBuilder)
	totalsTable.SetHeader([]string{"Discrepancy", "Count"})

	for _, k := range kinds {
		totalsTable.Append([]string{k, reportutils.FmtCount(totals[k])})
	}

	if r.collectionsCompared > 0 {
		fmt.Fprintf(
			strBuilder,
			"\n%s of %s collection(s) had differing digests (%s%%).\n",
			reportutils.FmtCount(r.collectionsDivergent),
			reportutils.FmtCount(r.collectionsCompared),
			reportutils.FmtPercent(r.collectionsDivergent, r.collectionsCompared),
		)
	}

	totalsTable.Render()

	return strBuilder.String()
}
