package synth

import (
	"fmt"
	"strings"

	"github.com/xaenox/analyst-bot/internal/models"
)

const previewRows = 10

var troubleshooting = map[models.ErrorKind][]string{
	models.ErrKindMissingObject: {
		"Verify the table and column names exist in the current database and schema",
		"Ask \"what tables are available?\" to list what the warehouse exposes",
		"Upload a semantic model so generated queries use the right names",
	},
	models.ErrKindPermission: {
		"Your role is not allowed to read this object; ask an administrator to grant SELECT on it",
		"Check that the connection uses the expected role, database and schema",
	},
	models.ErrKindSyntax: {
		"The generated SQL is not valid for this warehouse",
		"Rephrase the question with the exact metric and grouping you want",
	},
	models.ErrKindForbidden: {
		"Only read-only queries are allowed; statements that modify data or schema are blocked",
	},
	models.ErrKindTimeout: {
		"The query took too long; narrow the time range or add filters",
	},
	models.ErrKindUnavailable: {
		"The warehouse or backend could not be reached; reconnect and try again",
	},
}

var genericTips = []string{
	"Verify table names exist in your database/schema",
	"Check if column names are correct",
	"Ensure you have proper permissions",
	"Try uploading a semantic model for better accuracy",
}

var noSQLTips = []string{
	"The question might be too ambiguous",
	"Database connection issues",
	"Reasoning backend availability",
}

// Tips returns the troubleshooting guidance for an error kind.
func Tips(kind models.ErrorKind) []string {
	if tips, ok := troubleshooting[kind]; ok {
		return tips
	}
	return genericTips
}

type dataOutcome struct {
	schema     *models.SchemaLookupResult
	structured *models.StructuredQueryResult
	genFailure *models.Invocation
	raw        *models.RawQueryResult
	rawInv     *models.Invocation
	schemaErr  *models.Invocation
}

func collect(invocations []models.Invocation) dataOutcome {
	var out dataOutcome
	for i := range invocations {
		inv := &invocations[i]
		switch res := inv.Result.(type) {
		case models.SchemaLookupResult:
			out.schema = &res
		case models.StructuredQueryResult:
			out.structured = &res
		case models.RawQueryResult:
			out.raw = &res
			out.rawInv = inv
		}
		if inv.Success {
			continue
		}
		switch inv.Capability {
		case models.CapabilityStructuredQuery:
			out.genFailure = inv
		case models.CapabilitySchemaLookup:
			out.schemaErr = inv
		case models.CapabilityRawQuery:
			out.rawInv = inv
		}
	}
	return out
}

// renderData formats a data_query turn. It uses no backend so the same
// invocations always give the same reply.
func renderData(in Input) string {
	out := collect(in.Invocations)
	var b strings.Builder

	if out.structured != nil && out.structured.Warning != "" {
		fmt.Fprintf(&b, "Note: %s. Upload a semantic model for more accurate queries.\n\n", out.structured.Warning)
	}

	// schema-only turn
	if out.structured == nil && out.rawInv == nil {
		switch {
		case out.schema != nil:
			renderCatalog(&b, out.schema.Catalog)
		case out.schemaErr != nil:
			fmt.Fprintf(&b, "I couldn't read the schema: %s\n", out.schemaErr.Error)
			writeTips(&b, out.schemaErr.ErrKind)
		default:
			b.WriteString("I couldn't run a query for that question. Try rephrasing it with the metric and table you are interested in.\n")
		}
		return strings.TrimRight(b.String(), "\n")
	}

	query := ""
	if out.raw != nil {
		query = out.raw.Query
	}
	if query == "" && out.structured != nil {
		query = out.structured.Query
	}

	if query == "" {
		b.WriteString("No SQL query was generated. This could indicate:\n")
		for _, tip := range noSQLTips {
			fmt.Fprintf(&b, "- %s\n", tip)
		}
		if out.genFailure != nil && out.genFailure.Error != "" {
			fmt.Fprintf(&b, "\nDetails: %s\n", out.genFailure.Error)
		}
		return strings.TrimRight(b.String(), "\n")
	}

	b.WriteString("Generated SQL:\n```sql\n")
	b.WriteString(query)
	b.WriteString("\n```\n\n")

	if out.rawInv != nil && out.rawInv.Success && out.raw != nil {
		renderTable(&b, out.raw.Table)
		return strings.TrimRight(b.String(), "\n")
	}

	kind := models.ErrKindOther
	errText := "query was not executed"
	if out.rawInv != nil {
		kind = out.rawInv.ErrKind
		if out.rawInv.Error != "" {
			errText = out.rawInv.Error
		}
	}
	fmt.Fprintf(&b, "The query failed: %s\n", errText)
	writeTips(&b, kind)
	return strings.TrimRight(b.String(), "\n")
}

func writeTips(b *strings.Builder, kind models.ErrorKind) {
	b.WriteString("\nTroubleshooting tips:\n")
	for _, tip := range Tips(kind) {
		fmt.Fprintf(b, "- %s\n", tip)
	}
}

func renderTable(b *strings.Builder, table *models.Table) {
	if table == nil || len(table.Rows) == 0 {
		b.WriteString("The query ran successfully but returned no rows.\n")
		return
	}

	n := len(table.Rows)
	if table.Truncated {
		fmt.Fprintf(b, "Query returned %d rows (result truncated).\n\n", n)
	} else if n == 1 {
		b.WriteString("Query returned 1 row.\n\n")
	} else {
		fmt.Fprintf(b, "Query returned %d rows.\n\n", n)
	}

	b.WriteString("| " + strings.Join(escapeCells(table.Columns), " | ") + " |\n")
	b.WriteString("|" + strings.Repeat(" --- |", len(table.Columns)) + "\n")
	for i, row := range table.Rows {
		if i == previewRows {
			break
		}
		cells := make([]string, len(row))
		for j, v := range row {
			cells[j] = formatCell(v)
		}
		b.WriteString("| " + strings.Join(escapeCells(cells), " | ") + " |\n")
	}
	if n > previewRows {
		fmt.Fprintf(b, "\nShowing first %d of %d rows.\n", previewRows, n)
	}
}

func renderCatalog(b *strings.Builder, catalog *models.Catalog) {
	if catalog == nil || len(catalog.Tables) == 0 {
		b.WriteString("No tables found.\n")
		return
	}
	b.WriteString("Available tables:\n")
	for _, t := range catalog.Tables {
		cols := make([]string, 0, len(t.Columns))
		for _, c := range t.Columns {
			cols = append(cols, c.Name)
		}
		if len(cols) == 0 {
			fmt.Fprintf(b, "- %s\n", t.QualifiedName())
			continue
		}
		fmt.Fprintf(b, "- %s: %s\n", t.QualifiedName(), strings.Join(cols, ", "))
	}
}

func formatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(x)
	case float64:
		return fmt.Sprintf("%g", x)
	}
	return fmt.Sprint(v)
}

func escapeCells(cells []string) []string {
	out := make([]string, len(cells))
	for i, c := range cells {
		c = strings.ReplaceAll(c, "\n", " ")
		out[i] = strings.ReplaceAll(c, "|", "\\|")
	}
	return out
}
