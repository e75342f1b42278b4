package mcpserver

// BackupGuide describes backup behavior for LLM consumers of the tools.
const BackupGuide = `# Kenaz Backup Guide

## Backups

- A backup is an immutable snapshot of one note (` + "`" + `note_id` + "`" + `) or of every note.
- Media referenced from note bodies (` + "`" + `![alt](/attachments/x.png)` + "`" + `) is stored inside the backup.
  A media file that cannot be read is skipped and counted in ` + "`" + `media_failures` + "`" + `.
- Every backup carries an integrity digest. Restore and import refuse a backup whose digest does not match.

## Offline mode

- Backups go to the backup server first. When it is unreachable the backup is kept locally
  under an id starting with ` + "`" + `local_` + "`" + ` and reported as ` + "`" + `degraded` + "`" + `.
- While the server is down, ` + "`" + `list_backups` + "`" + ` shows only the local backups.
- Call ` + "`" + `sync_backups` + "`" + ` once the server is back to push local backups and prune the cache.

## Restore

- Restore adds notes; it never overwrites or deletes existing notes.
- A note whose title, content, tags and creation time match an existing note is skipped,
  so restoring the same backup twice creates nothing the second time.
- A restore that fails for some notes still reports ` + "`" + `success: true` + "`" + ` with the failures listed.

## Automatic backups

- When ` + "`" + `auto_backup_enabled` + "`" + ` is true, notes that changed since their latest backup are backed up
  every ` + "`" + `backup_interval_minutes` + "`" + `.
- Only the newest 30 automatic backups per note are kept. Manual backups are never pruned.

## Archives

- ` + "`" + `export_backups` + "`" + ` writes a zip archive; ` + "`" + `import_backups` + "`" + ` reads one back.
  Imported backups get new ids.
`
