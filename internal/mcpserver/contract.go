package mcpserver

// RecordFormatContract describes the canonical Markdown record format that
// LLM consumers should follow when creating or updating records.
const RecordFormatContract = `# Berkano Record Format Contract

Every Markdown record stored in Berkano MUST follow this structure.

## Structure

` + "```" + `markdown
---
id: note-0001                       # REQUIRED – assigned by the engine, never invent one
title: Human-readable title         # REQUIRED – used in search and the graph
type: note                          # REQUIRED – note, task, or reference
status: seedling                    # REQUIRED – must be legal for the type
tags:                               # OPTIONAL – YAML list, domain/scope form
  - project/garden
links:                              # OPTIONAL – ids of related records
  - note-0002
---

Body text in standard Markdown.

Use [[note-0002]] to reference other records by id.
Use [[note-0002|alias]] for display text that differs from the target.
` + "```" + `

## Rules

1. **YAML frontmatter is mandatory.** The ` + "```" + `---` + "```" + ` fences must be the first
   thing in the file (no leading blank lines).
2. **Ids are engine-assigned.** ` + "`" + `note-NNNN` + "`" + `, ` + "`" + `task-NNNN` + "`" + `, ` + "`" + `ref-NNNN` + "`" + ` –
   always create records through the ` + "`" + `create_record` + "`" + ` tool so the counter
   allocates the id.
3. **Statuses follow the type's lifecycle.** Notes: seedling, budding,
   evergreen. Tasks: todo, doing, blocked, done. References: unread,
   reading, absorbed.
4. **Tags** are lowercase ` + "`" + `domain/scope` + "`" + ` pairs (e.g. ` + "`" + `project/garden` + "`" + `).
   A bare ` + "`" + `domain` + "`" + ` tag is tolerated but flagged by the structure check.
5. **Wikilinks** use double brackets and target record ids, not file paths.
6. **File paths** are derived from type and id; never choose them by hand.
7. **Encoding** is UTF-8 with a trailing newline.

## Example

` + "```" + `markdown
---
id: note-0042
title: Soil acidity experiments
type: note
status: budding
tags:
  - garden/soil
links:
  - ref-0007
---

# Soil acidity experiments

Results so far track what [[ref-0007]] predicted. Follow-up task: [[task-0012]].
` + "```" + `
`
