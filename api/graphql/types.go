package graphql

import (
	"github.com/graphql-go/graphql"
)

var (
	// uint64 values do not fit GraphQL Int, so block numbers travel as decimal strings
	bigIntType  = graphql.String
	addressType = graphql.String
	hashType    = graphql.String

	contractType = graphql.NewObject(graphql.ObjectConfig{
		Name: "Contract",
		Fields: graphql.Fields{
			"address":  &graphql.Field{Type: graphql.NewNonNull(addressType)},
			"account":  &graphql.Field{Type: addressType},
			"canWrite": &graphql.Field{Type: graphql.NewNonNull(graphql.Boolean)},
			"origin":   &graphql.Field{Type: graphql.NewNonNull(bigIntType)},
		},
	})

	valueType = graphql.NewObject(graphql.ObjectConfig{
		Name: "Message",
		Fields: graphql.Fields{
			"contract": &graphql.Field{Type: graphql.NewNonNull(addressType)},
			"message":  &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"readAt":   &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"stale":    &graphql.Field{Type: graphql.NewNonNull(graphql.Boolean)},
		},
	})

	historyEntryType = graphql.NewObject(graphql.ObjectConfig{
		Name: "HistoryEntry",
		Fields: graphql.Fields{
			"sender":      &graphql.Field{Type: graphql.NewNonNull(addressType)},
			"oldValue":    &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"newValue":    &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"timestamp":   &graphql.Field{Type: graphql.NewNonNull(bigIntType)},
			"time":        &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"txHash":      &graphql.Field{Type: graphql.NewNonNull(hashType)},
			"blockNumber": &graphql.Field{Type: graphql.NewNonNull(bigIntType)},
			"logIndex":    &graphql.Field{Type: graphql.NewNonNull(graphql.Int)},
			"explorerUrl": &graphql.Field{Type: graphql.String},
		},
	})

	historyType = graphql.NewObject(graphql.ObjectConfig{
		Name: "History",
		Fields: graphql.Fields{
			"contract":  &graphql.Field{Type: graphql.NewNonNull(addressType)},
			"entries":   &graphql.Field{Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(historyEntryType)))},
			"complete":  &graphql.Field{Type: graphql.NewNonNull(graphql.Boolean)},
			"origin":    &graphql.Field{Type: graphql.NewNonNull(bigIntType)},
			"target":    &graphql.Field{Type: graphql.NewNonNull(bigIntType)},
			"cached":    &graphql.Field{Type: graphql.NewNonNull(graphql.Boolean)},
			"fetchedAt": &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"notice":    &graphql.Field{Type: graphql.String},
		},
	})

	confirmationType = graphql.NewObject(graphql.ObjectConfig{
		Name: "Confirmation",
		Fields: graphql.Fields{
			"txHash":      &graphql.Field{Type: graphql.NewNonNull(hashType)},
			"blockNumber": &graphql.Field{Type: graphql.NewNonNull(bigIntType)},
			"status":      &graphql.Field{Type: graphql.NewNonNull(graphql.Int)},
			"gasUsed":     &graphql.Field{Type: graphql.NewNonNull(bigIntType)},
			"explorerUrl": &graphql.Field{Type: graphql.String},
		},
	})
)
