package models

// Schema is a JSON schema expressed as nested maps, the form the LLM providers accept
type Schema map[string]interface{}

// OrderSetSchema describes {orders: [{restaurantName, date, time, total, canceled}]}
func OrderSetSchema() Schema {
	return Schema{
		"type": "object",
		"properties": map[string]interface{}{
			"orders": map[string]interface{}{
				"type":        "array",
				"description": "Every order visible in the order history, most recent first",
				"items": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"restaurantName": map[string]interface{}{
							"type":        "string",
							"description": "Name of the restaurant or store",
						},
						"date": map[string]interface{}{
							"type":        "string",
							"description": "Order date exactly as displayed",
						},
						"time": map[string]interface{}{
							"type":        "string",
							"description": "Order time exactly as displayed",
						},
						"total": map[string]interface{}{
							"type":        "number",
							"description": "Order total as a number without currency symbols",
						},
						"canceled": map[string]interface{}{
							"type":        "boolean",
							"description": "True when the order was canceled",
						},
					},
					"required": []string{"restaurantName", "date", "time", "total", "canceled"},
				},
			},
		},
		"required": []string{"orders"},
	}
}
