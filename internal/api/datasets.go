package api

import (
	"net/http"
)

type tableView struct {
	Name    string       `json:"name"`
	Columns []columnView `json:"columns"`
}

type columnView struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

func handleListDatasets(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"datasets": deps.Catalog.Datasets()})
}

func handleListTables(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	dataset := r.PathValue("dataset")
	schemaName, err := deps.Catalog.Resolve(dataset)
	if err != nil {
		writeError(r.Context(), w, http.StatusNotFound, "DATASET_NOT_FOUND", "unknown dataset "+dataset, false, nil)
		return
	}
	tables, err := deps.Catalog.Tables(dataset)
	if err != nil {
		writeError(r.Context(), w, http.StatusNotFound, "DATASET_NOT_FOUND", "unknown dataset "+dataset, false, nil)
		return
	}

	views := make([]tableView, 0, len(tables))
	for _, table := range tables {
		columns := make([]columnView, 0, len(table.Columns))
		for _, col := range table.Columns {
			columns = append(columns, columnView{Name: col.Name, Type: col.Type})
		}
		views = append(views, tableView{Name: table.Name, Columns: columns})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"dataset": dataset,
		"schema":  schemaName,
		"tables":  views,
	})
}
