package graph

import (
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"

	"github.com/PainSignalAI/painsignal-mvp/pkg/repo"
)

// newReportRepo creates a Neo4j-backed repository for Report nodes.
func newReportRepo(driver neo4j.DriverWithContext) *repo.Neo4jRepo[Report, string] {
	return repo.NewNeo4jRepo[Report, string](
		driver,
		"Report",
		reportToMap,
		reportFromRecord,
	)
}

func reportFromRecord(record *neo4j.Record) (Report, error) {
	node, _, err := neo4j.GetRecordValue[dbtype.Node](record, "n")
	if err != nil {
		return Report{}, err
	}
	return reportFromProps(node.Props), nil
}
