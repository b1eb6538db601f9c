// Package catalogtest provides an in-memory store directory for tests.
package catalogtest

import "testing/fstest"

const indexJSON = `{
  "title": "Riverside Primary",
  "classes": ["1A", "1B", "2A"],
  "stores": [
    {"id": "books", "name": "Book Room", "cover": "/img/books.png"},
    {"id": "uniforms", "name": "Uniform Shop"}
  ],
  "gst": 0.09,
  "discountCodes": [
    {"code": "WELCOME10", "kind": "percent", "amount": 10, "description": "10% off"},
    {"code": "STAFF20", "kind": "percent", "amount": 20},
    {"code": "FIVEOFF", "kind": "absolute", "amount": 5},
    {"code": "BIGSAVE", "kind": "absolute", "amount": 100}
  ],
  "discountCap": {"percentMax": null, "absoluteMax": 30}
}`

const booksJSON = `{
  "id": "books",
  "name": "Book Room",
  "alerts": [{"message": "Orders ship within 5 days", "severity": "info"}],
  "shipping": {"baseFee": 5},
  "constraints": {"maxQtyPerItem": 5},
  "discounts": [
    {"type": "nthItemPercent", "nth": 3, "percentOff": 50},
    {"type": "shippingThreshold", "threshold": 50, "shippingPercentOff": 100}
  ],
  "products": [
    {"sku": "BK-MATH", "name": "Maths Workbook", "price": 12.5, "img": "/img/math.png"},
    {"sku": "BK-ENG", "name": "English Reader", "price": 10, "img": "/img/eng.png"},
    {"sku": "BK-SCI", "name": "Science Notes", "price": 8, "img": "/img/sci.png"}
  ]
}`

const uniformsJSON = `{
  "id": "uniforms",
  "name": "Uniform Shop",
  "shipping": {"baseFee": 4},
  "constraints": {"maxQtyPerItem": 3},
  "discounts": [{"type": "overallPercent", "percentOff": 10}],
  "products": [
    {"sku": "UN-SHIRT", "name": "School Shirt", "price": 15, "img": "/img/shirt.png"},
    {"sku": "UN-SHORTS", "name": "School Shorts", "price": 12, "img": "/img/shorts.png"}
  ]
}`

const cardsJSON = `{
  "cards": [
    {"number": "6000111122223333", "balance": 200},
    {"number": "6000999988887777", "balance": 5}
  ]
}`

// Files returns a fresh copy of the fixture directory.
func Files() fstest.MapFS {
	return fstest.MapFS{
		"index.json":    {Data: []byte(indexJSON)},
		"books.json":    {Data: []byte(booksJSON)},
		"uniforms.json": {Data: []byte(uniformsJSON)},
		"cards.json":    {Data: []byte(cardsJSON)},
	}
}
