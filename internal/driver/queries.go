package driver

import "fmt"

// Detection queries. Each self-join keeps one row per contradicting pair via id() ordering.
const (
	SequenceMismatchQuery = `
		MATCH (a:Activity)-[r1:PRECEDES]->(b:Activity)
		WHERE r1.engagement_id = $engagement_id
		WITH a, b, r1
		MATCH (b)-[r2:PRECEDES]->(a)
		WHERE r2.engagement_id = $engagement_id
		  AND r1.source_id <> r2.source_id
		  AND id(a) < id(b)
		RETURN
			a.name AS activity_a,
			b.name AS activity_b,
			r1.source_id AS source_a_id,
			r2.source_id AS source_b_id,
			r1.source_weight AS weight_a,
			r2.source_weight AS weight_b,
			r1.created_at AS created_a,
			r2.created_at AS created_b
		LIMIT $limit
	`

	RoleMismatchQuery = `
		MATCH (act:Activity)-[r1:PERFORMED_BY]->(role1:Role)
		WHERE r1.engagement_id = $engagement_id
		WITH act, r1, role1
		MATCH (act)-[r2:PERFORMED_BY]->(role2:Role)
		WHERE r2.engagement_id = $engagement_id
		  AND r1.source_id <> r2.source_id
		  AND role1.name <> role2.name
		  AND id(r1) < id(r2)
		RETURN
			act.name AS activity_name,
			role1.name AS role_a,
			role2.name AS role_b,
			r1.source_id AS source_a_id,
			r2.source_id AS source_b_id,
			r1.source_weight AS weight_a,
			r2.source_weight AS weight_b,
			r1.created_at AS created_a,
			r2.created_at AS created_b
		LIMIT $limit
	`

	RuleMismatchQuery = `
		MATCH (act:Activity)-[:HAS_RULE]->(r1:BusinessRule)
		WHERE r1.engagement_id = $engagement_id
		WITH act, r1
		MATCH (act)-[:HAS_RULE]->(r2:BusinessRule)
		WHERE r2.engagement_id = $engagement_id
		  AND r1.source_id <> r2.source_id
		  AND r1.rule_text <> r2.rule_text
		  AND id(r1) < id(r2)
		RETURN
			act.name AS activity_name,
			r1.rule_text AS rule_text_a,
			r2.rule_text AS rule_text_b,
			r1.threshold_value AS threshold_a,
			r2.threshold_value AS threshold_b,
			r1.source_id AS source_a_id,
			r2.source_id AS source_b_id,
			r1.source_weight AS weight_a,
			r2.source_weight AS weight_b,
			r1.created_at AS created_a,
			r2.created_at AS created_b,
			r1.effective_from AS effective_from_a,
			r1.effective_to AS effective_to_a,
			r2.effective_from AS effective_from_b,
			r2.effective_to AS effective_to_b
		LIMIT $limit
	`

	// NOT pattern instead of EXISTS {} so the query also runs on Memgraph.
	ExistenceMismatchQuery = `
		MATCH (act:Activity)-[r1:EVIDENCED_BY]->(ev1:Evidence)
		WHERE r1.engagement_id = $engagement_id
		WITH act, ev1, r1
		MATCH (ev2:Evidence)
		WHERE ev2.engagement_id = $engagement_id
		  AND ev1.source_id <> ev2.source_id
		  AND NOT (act)-[:EVIDENCED_BY]->(ev2)
		RETURN
			act.name AS activity_name,
			ev1.source_id AS source_present_id,
			ev2.source_id AS source_absent_id,
			ev1.evidence_type AS type_present,
			ev2.evidence_type AS type_absent,
			ev1.source_weight AS weight_present,
			ev2.source_weight AS weight_absent,
			ev1.created_at AS created_present,
			ev2.created_at AS created_absent,
			ev1.effective_from AS effective_from_present,
			ev1.effective_to AS effective_to_present,
			ev2.effective_from AS effective_from_absent,
			ev2.effective_to AS effective_to_absent
		LIMIT $limit
	`

	IOMismatchQuery = `
		MATCH (up:Activity)-[p:PRECEDES]->(down:Activity)-[c:CONSUMES]->(art:Artifact)
		WHERE p.engagement_id = $engagement_id
		  AND c.engagement_id = $engagement_id
		  AND p.source_id <> c.source_id
		  AND NOT (up)-[:PRODUCES]->(art)
		RETURN
			up.name AS upstream,
			down.name AS downstream,
			art.name AS artifact,
			p.source_id AS source_a_id,
			c.source_id AS source_b_id,
			p.source_weight AS weight_a,
			c.source_weight AS weight_b,
			p.created_at AS created_a,
			c.created_at AS created_b
		LIMIT $limit
	`

	ControlGapQuery = `
		MATCH (act:Activity)-[g:GOVERNED_BY]->(pol:Policy)-[:REQUIRES_CONTROL]->(ctl:Control)
		WHERE act.engagement_id = $engagement_id
		  AND NOT (act)-[:REQUIRES_CONTROL]->(:Control)
		OPTIONAL MATCH (ctl)-[:IMPLEMENTS]->(reg:Regulation)
		RETURN
			act.name AS activity_name,
			pol.name AS policy_name,
			ctl.name AS control_name,
			reg.name AS regulation_name,
			g.source_id AS activity_source_id,
			pol.source_id AS policy_source_id,
			coalesce(pol.criticality, ctl.criticality) AS criticality
		LIMIT $limit
	`
)

// Classification context queries.
const (
	ConflictingNamesQuery = `
		MATCH (a:Activity)-[r:EVIDENCED_BY]->(e:Evidence)
		WHERE e.source_id IN [$source_a, $source_b]
		  AND r.engagement_id = $engagement_id
		RETURN DISTINCT a.name AS name, e.source_id AS source_id
		ORDER BY source_id, name
		LIMIT 50
	`

	VariantLinkQuery = `
		MATCH (a:Activity {name: $name_a})-[:VARIANT_OF]-(b:Activity {name: $name_b})
		WHERE a.engagement_id = $engagement_id
		RETURN a.name AS name_a, b.name AS name_b
		LIMIT 1
	`

	EffectiveDatesQuery = `
		MATCH (e:Evidence)
		WHERE e.source_id IN [$source_a, $source_b]
		  AND e.engagement_id = $engagement_id
		RETURN e.source_id AS source_id,
			e.effective_from AS effective_from,
			e.effective_to AS effective_to
		ORDER BY source_id
	`

	EpistemicFramesQuery = `
		MATCH (e:Evidence)
		WHERE e.source_id IN [$source_a, $source_b]
		  AND e.engagement_id = $engagement_id
		RETURN e.source_id AS source_id,
			e.epistemic_frame AS frame,
			e.evidence_type AS evidence_type
		ORDER BY source_id
	`

	TagValidityQuery = `
		MATCH ()-[r]->()
		WHERE r.source_id = $source_id AND r.engagement_id = $engagement_id
		SET r.valid_from = $valid_from, r.valid_to = $valid_to
		RETURN count(r) AS tagged
	`
)

// Node merge statements, run in order inside one write transaction.
const (
	MergeCountOtherQuery = `
		OPTIONAL MATCH (other:Activity {name: $other, engagement_id: $engagement_id})
		RETURN count(other) AS found
	`

	MergeEnsureCanonicalQuery = `
		MERGE (canonical:Activity {name: $canonical, engagement_id: $engagement_id})
		RETURN canonical.name AS name
	`

	MergeRedirectOtherQuery = `
		MATCH (canonical:Activity {name: $canonical, engagement_id: $engagement_id})
		MATCH (other:Activity {name: $other, engagement_id: $engagement_id})-[r]->(target)
		WHERE target <> canonical AND target <> other AND NOT type(r) IN $known_types
		CREATE (canonical)-[nr:MERGED_EDGE]->(target)
		SET nr = properties(r), nr.original_type = type(r), nr.merged_from = $other
		DELETE r
		RETURN count(nr) AS moved
	`

	MergeRedirectOtherIncomingQuery = `
		MATCH (canonical:Activity {name: $canonical, engagement_id: $engagement_id})
		MATCH (source)-[r]->(other:Activity {name: $other, engagement_id: $engagement_id})
		WHERE source <> canonical AND source <> other AND NOT type(r) IN $known_types
		CREATE (source)-[nr:MERGED_EDGE]->(canonical)
		SET nr = properties(r), nr.original_type = type(r), nr.merged_from = $other
		DELETE r
		RETURN count(nr) AS moved
	`

	// Edges between the two nodes, and self-loops on other, become self-loops
	// on canonical so their provenance survives the delete.
	MergeFoldOutgoingQuery = `
		MATCH (canonical:Activity {name: $canonical, engagement_id: $engagement_id})
		MATCH (other:Activity {name: $other, engagement_id: $engagement_id})-[r]->(target)
		WHERE target = canonical OR target = other
		WITH canonical, r, type(r) AS rel_type, properties(r) AS props
		CREATE (canonical)-[nr:MERGED_EDGE]->(canonical)
		SET nr = props, nr.original_type = rel_type, nr.merged_from = $other,
			nr.merged_direction = 'outgoing'
		DELETE r
		RETURN count(nr) AS moved
	`

	MergeFoldIncomingQuery = `
		MATCH (canonical:Activity {name: $canonical, engagement_id: $engagement_id})-[r]->(other:Activity {name: $other, engagement_id: $engagement_id})
		WITH canonical, r, type(r) AS rel_type, properties(r) AS props
		CREATE (canonical)-[nr:MERGED_EDGE]->(canonical)
		SET nr = props, nr.original_type = rel_type, nr.merged_from = $other,
			nr.merged_direction = 'incoming'
		DELETE r
		RETURN count(nr) AS moved
	`

	MergeAliasAndDeleteQuery = `
		MATCH (canonical:Activity {name: $canonical, engagement_id: $engagement_id})
		MATCH (other:Activity {name: $other, engagement_id: $engagement_id})
		SET canonical.aliases = CASE
			WHEN $other IN coalesce(canonical.aliases, []) THEN canonical.aliases
			ELSE coalesce(canonical.aliases, []) + [$other]
		END
		DETACH DELETE other
		RETURN canonical.aliases AS aliases
	`
)

// MergeRelationshipTypes keep their type when moved onto the canonical node.
// Anything else is carried over as MERGED_EDGE with original_type set.
var MergeRelationshipTypes = []string{
	"PRECEDES",
	"PERFORMED_BY",
	"GOVERNED_BY",
	"REQUIRES_CONTROL",
	"IMPLEMENTS",
	"VARIANT_OF",
	"EVIDENCED_BY",
	"HAS_RULE",
	"PRODUCES",
	"CONSUMES",
}

// Cypher cannot parameterize relationship types, so the typed redirects are
// generated once from the fixed list above.
var (
	mergeOutgoingByType = map[string]string{}
	mergeIncomingByType = map[string]string{}
)

func init() {
	for _, relType := range MergeRelationshipTypes {
		mergeOutgoingByType[relType] = fmt.Sprintf(`
		MATCH (canonical:Activity {name: $canonical, engagement_id: $engagement_id})
		MATCH (other:Activity {name: $other, engagement_id: $engagement_id})-[r:%[1]s]->(target)
		WHERE target <> canonical AND target <> other
		CREATE (canonical)-[nr:%[1]s]->(target)
		SET nr = properties(r), nr.merged_from = $other
		DELETE r
		RETURN count(nr) AS moved
	`, relType)
		mergeIncomingByType[relType] = fmt.Sprintf(`
		MATCH (canonical:Activity {name: $canonical, engagement_id: $engagement_id})
		MATCH (source)-[r:%[1]s]->(other:Activity {name: $other, engagement_id: $engagement_id})
		WHERE source <> canonical AND source <> other
		CREATE (source)-[nr:%[1]s]->(canonical)
		SET nr = properties(r), nr.merged_from = $other
		DELETE r
		RETURN count(nr) AS moved
	`, relType)
	}
}

// MergeRedirectQueries returns the edge redirect statements in execution order:
// typed outgoing, typed incoming, the catch-all pair, then the edges between
// the two nodes.
func MergeRedirectQueries() []string {
	out := make([]string, 0, 2*len(MergeRelationshipTypes)+4)
	for _, relType := range MergeRelationshipTypes {
		out = append(out, mergeOutgoingByType[relType])
	}
	for _, relType := range MergeRelationshipTypes {
		out = append(out, mergeIncomingByType[relType])
	}
	return append(out, MergeRedirectOtherQuery, MergeRedirectOtherIncomingQuery,
		MergeFoldOutgoingQuery, MergeFoldIncomingQuery)
}

var IndexQueries = []string{
	"CREATE INDEX ON :Activity(engagement_id);",
	"CREATE INDEX ON :Activity(name);",
	"CREATE INDEX ON :Evidence(source_id);",
	"CREATE INDEX ON :Evidence(engagement_id);",
	"CREATE INDEX ON :Policy(engagement_id);",
	"CREATE INDEX ON :BusinessRule(engagement_id);",
}
