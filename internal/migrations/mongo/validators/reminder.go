package validators

import "go.mongodb.org/mongo-driver/bson"

var ReminderValidator = bson.M{
	"$jsonSchema": bson.M{
		"bsonType": "object",
		"required": []string{
			"booking_id",
			"customer_id",
			"slot_start",
			"due_at",
			"status",
			"attempts",
		},
		"additionalProperties": true,

		"properties": bson.M{
			"_id": bson.M{
				"bsonType": "string",
			},

			"booking_id": bson.M{
				"bsonType":  "string",
				"minLength": 1,
			},

			"customer_id": bson.M{
				"bsonType": "string",
			},

			"slot_start": bson.M{
				"bsonType": "date",
			},

			"due_at": bson.M{
				"bsonType": "date",
			},

			"status": bson.M{
				"bsonType": "string",
				"enum": []string{
					"pending",
					"in_progress",
					"sent",
					"failed",
					"cancelled",
				},
			},

			"attempts": bson.M{
				"bsonType": []string{"int", "long"},
				"minimum":  0,
			},

			"claimed_at": bson.M{
				"bsonType": "date",
			},

			"sent_at": bson.M{
				"bsonType": "date",
			},
		},
	},
}
