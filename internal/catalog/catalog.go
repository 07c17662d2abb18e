package catalog

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

var ErrNotFound = errors.New("catalog: not found")

// Catalog is the static allow-list of datasets, tables, and columns. It is
// loaded once at process start and never mutated afterwards; the safety
// policy depends on it being read-only while requests are in flight.
type Catalog struct {
	datasets map[string]Dataset
}

type Dataset struct {
	Name       string
	SchemaName string
	tables     map[string]TableSpec
}

type TableSpec struct {
	Name    string
	Columns []Column
	allowed map[string]struct{}
}

type Column struct {
	Name string
	Type string
}

type fileSpec struct {
	Datasets map[string]datasetSpec `yaml:"datasets"`
}

type datasetSpec struct {
	Schema string                 `yaml:"schema"`
	Tables map[string][]yaml.Node `yaml:"tables"`
}

// LoadFile reads and validates the catalog from a YAML file. Any error here
// is fatal for the caller: the service must not start serving with a
// partially loaded catalog.
func LoadFile(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}
	return Parse(raw)
}

func Parse(raw []byte) (*Catalog, error) {
	var spec fileSpec
	if err := yaml.Unmarshal(raw, &spec); err != nil {
		return nil, fmt.Errorf("parse catalog yaml: %w", err)
	}
	if len(spec.Datasets) == 0 {
		return nil, fmt.Errorf("catalog defines no datasets")
	}

	datasets := make(map[string]Dataset, len(spec.Datasets))
	for name, ds := range spec.Datasets {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" {
			return nil, fmt.Errorf("catalog dataset with empty name")
		}
		if strings.TrimSpace(ds.Schema) == "" {
			return nil, fmt.Errorf("dataset %q: schema is required", name)
		}
		if len(ds.Tables) == 0 {
			return nil, fmt.Errorf("dataset %q: no tables defined", name)
		}

		tables := make(map[string]TableSpec, len(ds.Tables))
		for tableName, columnNodes := range ds.Tables {
			spec, err := parseTable(tableName, columnNodes)
			if err != nil {
				return nil, fmt.Errorf("dataset %q: %w", name, err)
			}
			tables[strings.ToLower(spec.Name)] = spec
		}
		datasets[key] = Dataset{
			Name:       key,
			SchemaName: strings.TrimSpace(ds.Schema),
			tables:     tables,
		}
	}

	return &Catalog{datasets: datasets}, nil
}

// parseTable accepts either plain column names or "name: type" mappings, so
// catalogs can carry semantic type hints for the prompt without making them
// mandatory.
func parseTable(name string, nodes []yaml.Node) (TableSpec, error) {
	tableName := strings.ToLower(strings.TrimSpace(name))
	if tableName == "" {
		return TableSpec{}, fmt.Errorf("table with empty name")
	}
	if len(nodes) == 0 {
		return TableSpec{}, fmt.Errorf("table %q: no columns defined", name)
	}

	columns := make([]Column, 0, len(nodes))
	allowed := make(map[string]struct{}, len(nodes))
	for _, node := range nodes {
		var column Column
		switch node.Kind {
		case yaml.ScalarNode:
			column = Column{Name: strings.ToLower(strings.TrimSpace(node.Value))}
		case yaml.MappingNode:
			if len(node.Content) != 2 {
				return TableSpec{}, fmt.Errorf("table %q: malformed column entry", name)
			}
			column = Column{
				Name: strings.ToLower(strings.TrimSpace(node.Content[0].Value)),
				Type: strings.TrimSpace(node.Content[1].Value),
			}
		default:
			return TableSpec{}, fmt.Errorf("table %q: malformed column entry", name)
		}
		if column.Name == "" {
			return TableSpec{}, fmt.Errorf("table %q: column with empty name", name)
		}
		if _, dup := allowed[column.Name]; dup {
			return TableSpec{}, fmt.Errorf("table %q: duplicate column %q", name, column.Name)
		}
		columns = append(columns, column)
		allowed[column.Name] = struct{}{}
	}

	return TableSpec{Name: tableName, Columns: columns, allowed: allowed}, nil
}

// Resolve maps a logical dataset name to its physical schema name.
func (c *Catalog) Resolve(dataset string) (string, error) {
	ds, ok := c.datasets[strings.ToLower(strings.TrimSpace(dataset))]
	if !ok {
		return "", fmt.Errorf("dataset %q: %w", dataset, ErrNotFound)
	}
	return ds.SchemaName, nil
}

// Table looks up a table spec within a dataset. The table may be given bare
// or qualified with the dataset's schema; a foreign schema prefix does not
// resolve.
func (c *Catalog) Table(dataset, table string) (TableSpec, error) {
	ds, ok := c.datasets[strings.ToLower(strings.TrimSpace(dataset))]
	if !ok {
		return TableSpec{}, fmt.Errorf("dataset %q: %w", dataset, ErrNotFound)
	}

	name := strings.ToLower(strings.TrimSpace(table))
	if schema, bare, qualified := strings.Cut(name, "."); qualified {
		if !strings.EqualFold(schema, ds.SchemaName) {
			return TableSpec{}, fmt.Errorf("table %q: %w", table, ErrNotFound)
		}
		name = bare
	}
	spec, ok := ds.tables[name]
	if !ok {
		return TableSpec{}, fmt.Errorf("table %q: %w", table, ErrNotFound)
	}
	return spec, nil
}

func (c *Catalog) Datasets() []string {
	names := make([]string, 0, len(c.datasets))
	for name := range c.datasets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *Catalog) Tables(dataset string) ([]TableSpec, error) {
	ds, ok := c.datasets[strings.ToLower(strings.TrimSpace(dataset))]
	if !ok {
		return nil, fmt.Errorf("dataset %q: %w", dataset, ErrNotFound)
	}
	names := make([]string, 0, len(ds.tables))
	for name := range ds.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	specs := make([]TableSpec, 0, len(names))
	for _, name := range names {
		specs = append(specs, ds.tables[name])
	}
	return specs, nil
}

// SchemaHint renders the dataset in the "schema.table(col:type, ...)" shape
// the SQL generation prompt expects. Hints are advisory only; the validator
// never consults them.
func (c *Catalog) SchemaHint(dataset string) (string, error) {
	ds, ok := c.datasets[strings.ToLower(strings.TrimSpace(dataset))]
	if !ok {
		return "", fmt.Errorf("dataset %q: %w", dataset, ErrNotFound)
	}

	tables, _ := c.Tables(dataset)
	lines := make([]string, 0, len(tables))
	for _, table := range tables {
		cols := make([]string, 0, len(table.Columns))
		for _, col := range table.Columns {
			if col.Type != "" {
				cols = append(cols, col.Name+":"+col.Type)
			} else {
				cols = append(cols, col.Name)
			}
		}
		lines = append(lines, fmt.Sprintf("%s.%s(%s)", ds.SchemaName, table.Name, strings.Join(cols, ", ")))
	}
	return strings.Join(lines, "\n"), nil
}

// AllowsColumn reports whether a bare column name is in the table's allow
// list. Matching is case-insensitive.
func (t TableSpec) AllowsColumn(column string) bool {
	_, ok := t.allowed[strings.ToLower(strings.TrimSpace(column))]
	return ok
}

func (t TableSpec) ColumnNames() []string {
	names := make([]string, 0, len(t.Columns))
	for _, col := range t.Columns {
		names = append(names, col.Name)
	}
	return names
}
