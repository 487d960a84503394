package mongodb

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/davicafu/hexaevents/internal/shared/domain"
)

// Los payloads JSON se guardan como subdocumentos para que sean consultables desde Mongo.

func jsonToDoc(data []byte) (bson.D, error) {
	var doc bson.D
	if err := bson.UnmarshalExtJSON(data, false, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrSerialization, err)
	}
	return doc, nil
}

func docToJSON(doc bson.D) ([]byte, error) {
	if doc == nil {
		doc = bson.D{}
	}
	data, err := bson.MarshalExtJSON(doc, false, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrSerialization, err)
	}
	return data, nil
}
