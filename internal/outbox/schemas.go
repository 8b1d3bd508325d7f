package outbox

const logRecordedSchema = `{
  "type": "object",
  "title": "LogRecorded",
  "properties": {
    "log_id": {"type": "string"},
    "patient_id": {"type": "string"},
    "exercise_name": {"type": "string"},
    "activity_type": {"type": "string"},
    "performed_at": {"type": "string", "format": "date-time"},
    "set_count": {"type": "integer"},
    "recorded_at": {"type": "string", "format": "date-time"},
    "version": {"type": "string"}
  },
  "required": ["log_id", "patient_id", "exercise_name", "activity_type", "performed_at", "set_count", "recorded_at", "version"],
  "additionalProperties": false
}`
