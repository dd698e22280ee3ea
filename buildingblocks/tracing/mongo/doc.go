// Package mongo persists execution trace records in a MongoDB collection.
package mongo
