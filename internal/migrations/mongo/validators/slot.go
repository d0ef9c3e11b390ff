package validators

import "go.mongodb.org/mongo-driver/bson"

var SlotValidator = bson.M{
	"$jsonSchema": bson.M{
		"bsonType": "object",
		"required": []string{
			"consultant_id",
			"start_time",
			"end_time",
			"status",
			"version",
		},
		"additionalProperties": true,

		"properties": bson.M{
			"_id": bson.M{
				"bsonType": "string",
			},

			"consultant_id": bson.M{
				"bsonType":  "string",
				"minLength": 1,
				"maxLength": 64,
			},

			"start_time": bson.M{
				"bsonType": "date",
			},

			"end_time": bson.M{
				"bsonType": "date",
			},

			"status": bson.M{
				"bsonType": "string",
				"enum": []string{
					"available",
					"held",
					"booked",
				},
			},

			// set only while held or booked
			"booking_id": bson.M{
				"bsonType": "string",
			},

			"version": bson.M{
				"bsonType": "long",
				"minimum":  1,
			},
		},
	},
}
