package flow

// flowSchema is the structural JSON Schema for a flow document. Variant
// config shapes are checked by DecodeNode; the schema guards the envelope
// and the per-node required fields.
const flowSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["id", "name", "version", "entry", "nodes"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "name": {"type": "string", "minLength": 1},
    "version": {"type": "string", "minLength": 1},
    "description": {"type": "string"},
    "entry": {
      "type": "object",
      "required": ["id", "type", "target"],
      "properties": {
        "id": {"type": "string", "minLength": 1},
        "type": {"const": "entry"},
        "target": {"type": "string", "minLength": 1}
      }
    },
    "nodes": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "type"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "type": {
            "enum": ["ivr", "if", "queue", "buyer", "record", "tag", "whisper", "timeout", "fallback", "hangup"]
          }
        }
      }
    },
    "metadata": {"type": "object"}
  }
}`
