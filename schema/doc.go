// Package schema describes tables and their fields as seen by the segment builder.
//
// Schema management itself lives outside segdb; this package only defines the
// narrow collaborator interface the builder consumes ([Schema]) together with a
// static implementation that can be loaded from a JSON definition document.
//
// A definition document looks like:
//
//	{
//	  "tables": [
//	    {"name": "User", "fields": [
//	      {"name": "Name", "type": "TEXT"},
//	      {"name": "Age",  "type": "INTEGER"},
//	      {"name": "Team", "type": "LINK", "target": "Team", "inverse": "Members"}
//	    ]}
//	  ]
//	}
//
// Documents are validated against a JSON Schema before decoding.
package schema
