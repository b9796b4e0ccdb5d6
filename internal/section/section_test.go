package section

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/filingest/internal/filing"
	"github.com/dgallion1/filingest/internal/parser"
)

func labels(secs []Section) []Label {
	out := make([]Label, len(secs))
	for i, s := range secs {
		out[i] = s.Label
	}
	return out
}

func find(secs []Section, l Label) (Section, bool) {
	for _, s := range secs {
		if s.Label == l {
			return s, true
		}
	}
	return Section{}, false
}

const annualWithTOC = `UNITED STATES SECURITIES AND EXCHANGE COMMISSION
FORM 10-K
TABLE OF CONTENTS
Item 1. Business 3
Item 1A. Risk Factors 12
Item 1B. Unresolved Staff Comments 20
Item 7. Management's Discussion and Analysis 35
Item 8. Financial Statements 50

PART I
Item 1. Business
We design and manufacture heavy equipment for construction and mining customers.
Our dealers operate in more than 190 countries.

Item 1A. Risk Factors
Our business is exposed to cyclical demand.
Commodity prices affect our mining customers.
We face intense competition.

Item 1B. Unresolved Staff Comments
None.

PART II
Item 7. Management's Discussion and Analysis of Financial Condition
Sales and revenues increased compared with the prior year.
Operating profit margin improved.

Item 7A. Quantitative and Qualitative Disclosures About Market Risk
Interest rate exposure is discussed in Note 4.

Item 8. Financial Statements and Supplementary Data
See index.
SIGNATURES
`

func TestExtract_TOCEntriesLoseToBody(t *testing.T) {
	e := New(DefaultConfig())
	secs := e.Extract(annualWithTOC, filing.TypeAnnual, parser.FormatHTML)

	require.Equal(t, []Label{Business, RiskFactors, MDA}, labels(secs))

	risk, _ := find(secs, RiskFactors)
	assert.True(t, strings.HasPrefix(risk.Text, "Item 1A. Risk Factors\nOur business is exposed"), risk.Text)
	assert.Contains(t, risk.Text, "We face intense competition.")
	assert.NotContains(t, risk.Text, "Unresolved")

	biz, _ := find(secs, Business)
	assert.Contains(t, biz.Text, "190 countries")
	assert.NotContains(t, biz.Text, "Risk Factors")

	mda, _ := find(secs, MDA)
	assert.Contains(t, mda.Text, "Operating profit margin improved.")
	assert.NotContains(t, mda.Text, "Market Risk", "Item 7A must end Item 7")

	assert.Equal(t, risk.Text, strings.TrimSpace(annualWithTOC[risk.Start:risk.End]))
}

func TestExtract_MissingLabelIsAbsent(t *testing.T) {
	text := "Item 1A. Risk Factors\nDemand may fall.\nItem 2. Properties\nWe own plants.\n"
	secs := New(DefaultConfig()).Extract(text, filing.TypeAnnual, parser.FormatText)

	require.Len(t, secs, 1)
	assert.Equal(t, RiskFactors, secs[0].Label)
	assert.Equal(t, "Item 1A. Risk Factors\nDemand may fall.", secs[0].Text)
}

func TestExtract_NoMarkers(t *testing.T) {
	secs := New(DefaultConfig()).Extract("Just a press release with no items.", filing.TypeAnnual, parser.FormatHTML)
	assert.Empty(t, secs)
}

func TestExtract_CrossReferenceIsNotABoundary(t *testing.T) {
	text := "Item 1A. Risk Factors\nRisks are described below and in\nItem 7 of this report.\nMore risk text.\nItem 2. Properties\n"
	secs := New(DefaultConfig()).Extract(text, filing.TypeAnnual, parser.FormatText)

	require.Len(t, secs, 1)
	assert.Contains(t, secs[0].Text, "More risk text.")
}

func TestExtract_PDFHeadingsWithoutSpaces(t *testing.T) {
	text := "ITEM1A.RISKFACTORS\nSupply chain disruption.\nITEM1B.UNRESOLVEDSTAFFCOMMENTS\nNone.\n"

	pdf := New(DefaultConfig()).Extract(text, filing.TypeAnnual, parser.FormatPDF)
	require.Len(t, pdf, 1)
	assert.Equal(t, "ITEM1A.RISKFACTORS\nSupply chain disruption.", pdf[0].Text)

	html := New(DefaultConfig()).Extract(text, filing.TypeAnnual, parser.FormatHTML)
	assert.Empty(t, html, "html grammar requires spaces")
}

func TestExtract_HeadingSplitAcrossLines(t *testing.T) {
	text := "ITEM 7.\nMANAGEMENT'S DISCUSSION AND ANALYSIS\nResults improved.\nITEM 8.\nFINANCIAL STATEMENTS\n"
	secs := New(DefaultConfig()).Extract(text, filing.TypeAnnual, parser.FormatHTML)

	require.Len(t, secs, 1)
	assert.Equal(t, MDA, secs[0].Label)
	assert.Contains(t, secs[0].Text, "Results improved.")
	assert.NotContains(t, secs[0].Text, "FINANCIAL")
}

func TestExtract_QuarterlyRules(t *testing.T) {
	text := strings.Join([]string{
		"PART I",
		"Item 1. Financial Statements",
		"Balance sheet.",
		"Item 2. Management's Discussion and Analysis",
		"Quarterly sales grew.",
		"Item 3. Quantitative and Qualitative Disclosures",
		"PART II",
		"Item 1A. Risk Factors",
		"No material changes.",
		"Item 2. Unregistered Sales of Equity Securities",
		"None.",
	}, "\n")
	secs := New(DefaultConfig()).Extract(text, filing.TypeQuarterly, parser.FormatText)

	require.Equal(t, []Label{RiskFactors, MDA}, labels(secs))
	mda, _ := find(secs, MDA)
	assert.Contains(t, mda.Text, "Quarterly sales grew.")
	risk, _ := find(secs, RiskFactors)
	assert.Contains(t, risk.Text, "No material changes.")
}

func TestExtract_CurrentReportRules(t *testing.T) {
	text := "Item 2.02 Results of Operations and Financial Condition\nQ3 results attached.\nItem 9.01 Financial Statements and Exhibits\n"
	secs := New(DefaultConfig()).Extract(text, filing.TypeCurrent, parser.FormatHTML)

	require.Len(t, secs, 1)
	assert.Equal(t, MDA, secs[0].Label)
	assert.Contains(t, secs[0].Text, "Q3 results attached.")
}

func TestExtract_CustomConfig(t *testing.T) {
	cfg := Config{Rules: map[filing.Type][]Rule{
		filing.TypeAnnual: {{Label: MDA, Item: "7", Title: []string{"management"}}},
	}}
	secs := New(cfg).Extract(annualWithTOC, filing.TypeAnnual, parser.FormatText)
	assert.Equal(t, []Label{MDA}, labels(secs))
}

func TestExtract_LongestSpanWinsTieGoesFirst(t *testing.T) {
	text := "Item 1A. Risk Factors\nA\nItem 1A. Risk Factors\nB\n"
	secs := New(DefaultConfig()).Extract(text, filing.TypeAnnual, parser.FormatText)
	require.Len(t, secs, 1)
	assert.Equal(t, 0, secs[0].Start)
	assert.Equal(t, "Item 1A. Risk Factors\nA", secs[0].Text)
}
