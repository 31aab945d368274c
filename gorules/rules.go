//go:build ruleguard
// +build ruleguard

// Package gorules holds the ruleguard checks that golangci-lint runs
// over this module.
package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

func NoRawInterface(m dsl.Matcher) {
	m.Match("interface{}").
		Report("Avoid $$; prefer `any`.").
		Suggest("any")
}

func NoZerologInterface(m dsl.Matcher) {
	m.Import("github.com/rs/zerolog")

	m.Match("$v.Interface").
		Where(m["v"].Type.Is("*zerolog.Event")).
		Report("Avoid Interface(); use Any() instead.")
}

// Event lines and printed positions are relaxed Extended JSON.
func NoCanonicalExtJSON(m dsl.Matcher) {
	m.Import("go.mongodb.org/mongo-driver/bson")

	m.Match("bson.MarshalExtJSON($_, true, $_)").
		Report("Output uses relaxed Extended JSON; pass canonical=false.")
}

// Only the MongoDB store talks to collections directly, so that every
// write goes through its session and retry handling.
func NoDirectCollectionWrites(m dsl.Matcher) {
	m.Import("go.mongodb.org/mongo-driver/mongo")

	m.Match(
		"$c.InsertOne($*_)",
		"$c.ReplaceOne($*_)",
		"$c.DeleteOne($*_)",
		"$c.Drop($*_)",
	).
		Where(
			m["c"].Type.Is("*mongo.Collection") &&
				!m.File().PkgPath.Matches(`/internal/(docstore|checkpoint)/mongostore$`) &&
				!m.File().Name.Matches(`_test\.go$`),
		).
		Report("Write through a docstore.Store rather than a *mongo.Collection.")
}

// The apply step must finish even when the loop is asked to stop.
func NoCancelableApply(m dsl.Matcher) {
	m.Match("$a.Apply($ctx, $_)").
		Where(
			m["a"].Type.Is("*replicator.Applier") &&
				!m["ctx"].Text.Matches(`^context\.WithoutCancel\(`) &&
				!m.File().Name.Matches(`_test\.go$`),
		).
		Report("Apply with context.WithoutCancel so that an event is never half-applied.")
}
