// Package mongo implements store.Store on the official MongoDB driver.
//
// Each job is one document keyed by its ID. Dequeue claims documents one
// at a time with FindOneAndUpdate, so concurrent workers never receive
// the same job.
//
//	client, _ := mongod.Connect(options.Client().ApplyURI(uri))
//	s := mongo.New(client.Database("gmpreport"))
//	if err := s.Migrate(ctx); err != nil { ... }
//
// The caller owns the client; Close is a no-op.
package mongo
