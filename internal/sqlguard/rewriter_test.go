package sqlguard

import "testing"

func checkAccepted(t *testing.T, guard *Guard, dataset, sqlText string) Statement {
	t.Helper()
	st, err := guard.Check(dataset, sqlText)
	if err != nil {
		t.Fatalf("Check(%q) error = %v", sqlText, err)
	}
	return st
}

func TestRewriteAppendsDefaultLimit(t *testing.T) {
	guard := testGuard(t)

	st := checkAccepted(t, guard, "odoo", "SELECT id, display_name FROM odoo_replica.stg_res_partner")
	st = guard.Rewrite(st)
	want := "SELECT id, display_name FROM odoo_replica.stg_res_partner LIMIT 200;"
	if st.SQL != want {
		t.Fatalf("SQL = %q, want %q", st.SQL, want)
	}
	if !st.HasLimit {
		t.Fatal("HasLimit should be true after rewrite")
	}
}

func TestRewriteKeepsExplicitLimit(t *testing.T) {
	guard := testGuard(t)

	st := checkAccepted(t, guard, "odoo", "SELECT id FROM odoo_replica.stg_res_partner LIMIT 5")
	st = guard.Rewrite(st)
	want := "SELECT id FROM odoo_replica.stg_res_partner LIMIT 5;"
	if st.SQL != want {
		t.Fatalf("SQL = %q, want %q", st.SQL, want)
	}
}

func TestRewriteQualifiesBareTable(t *testing.T) {
	guard := testGuard(t)

	st := checkAccepted(t, guard, "odoo", "SELECT id FROM stg_res_partner WHERE email IS NOT NULL")
	st = guard.Rewrite(st)
	want := "SELECT id FROM odoo_replica.stg_res_partner WHERE email IS NOT NULL LIMIT 200;"
	if st.SQL != want {
		t.Fatalf("SQL = %q, want %q", st.SQL, want)
	}
}

func TestRewriteStripsTrailingTerminator(t *testing.T) {
	guard := testGuard(t)

	st := checkAccepted(t, guard, "odoo", "SELECT id FROM odoo_replica.stg_res_partner LIMIT 5;")
	st = guard.Rewrite(st)
	want := "SELECT id FROM odoo_replica.stg_res_partner LIMIT 5;"
	if st.SQL != want {
		t.Fatalf("SQL = %q, want %q", st.SQL, want)
	}
}

func TestRewriteWithLimitClampsToDefault(t *testing.T) {
	guard := testGuard(t)

	st := checkAccepted(t, guard, "odoo", "SELECT id FROM odoo_replica.stg_res_partner")

	tightened := guard.RewriteWithLimit(st, 10)
	if tightened.SQL != "SELECT id FROM odoo_replica.stg_res_partner LIMIT 10;" {
		t.Fatalf("SQL = %q", tightened.SQL)
	}

	// A requested bound above the default falls back to the default, as
	// does a nonsensical one.
	for _, limit := range []int{5000, 0, -1} {
		loosened := guard.RewriteWithLimit(st, limit)
		if loosened.SQL != "SELECT id FROM odoo_replica.stg_res_partner LIMIT 200;" {
			t.Fatalf("RewriteWithLimit(%d) SQL = %q", limit, loosened.SQL)
		}
	}
}

func TestRewriteDropsTrailingComment(t *testing.T) {
	guard := testGuard(t)

	st := checkAccepted(t, guard, "odoo", "SELECT id FROM stg_res_partner -- partner ids")
	st = guard.Rewrite(st)
	want := "SELECT id FROM odoo_replica.stg_res_partner LIMIT 200;"
	if st.SQL != want {
		t.Fatalf("SQL = %q, want %q", st.SQL, want)
	}

	// The appended LIMIT must be live SQL, not text inside the comment.
	again, err := guard.Check("odoo", st.SQL)
	if err != nil {
		t.Fatalf("re-Check(%q) error = %v", st.SQL, err)
	}
	if !again.HasLimit {
		t.Fatalf("re-Check(%q) did not see the LIMIT", st.SQL)
	}

	st = checkAccepted(t, guard, "odoo", "SELECT id FROM stg_res_partner LIMIT 5 /* capped */")
	st = guard.Rewrite(st)
	if st.SQL != "SELECT id FROM odoo_replica.stg_res_partner LIMIT 5;" {
		t.Fatalf("SQL = %q", st.SQL)
	}
}

func TestRewriteIsIdempotent(t *testing.T) {
	guard := testGuard(t)

	st := checkAccepted(t, guard, "odoo", "SELECT id FROM stg_res_partner")
	once := guard.Rewrite(st)
	twice := guard.Rewrite(once)
	if once.SQL != twice.SQL {
		t.Fatalf("Rewrite not idempotent: %q vs %q", once.SQL, twice.SQL)
	}
}

func TestRewriteOutputPassesValidation(t *testing.T) {
	guard := testGuard(t)

	inputs := []string{
		"SELECT id, display_name FROM stg_res_partner",
		"SELECT count(*) FROM stg_account_move",
		"SELECT partner_id, sum(amount_total) FROM odoo_replica.stg_account_move GROUP BY partner_id ORDER BY 2 DESC LIMIT 10",
	}
	for _, input := range inputs {
		st := guard.Rewrite(checkAccepted(t, guard, "odoo", input))
		if err := RequireLimit(st); err != nil {
			t.Fatalf("RequireLimit(%q) error = %v", input, err)
		}
		again, err := guard.Check("odoo", st.SQL)
		if err != nil {
			t.Fatalf("re-Check(%q) error = %v", st.SQL, err)
		}
		if !again.HasLimit {
			t.Fatalf("re-Check(%q) lost the LIMIT", st.SQL)
		}
	}
}
