// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
Package audit implements the reliability core's optional, write-only
observability sink (§10/§11): a GORM-backed table that records one row per
router attempt, circuit transition, or exhaustion event purely for post-hoc
inspection. The router never reads this sink back to make an admission
decision — appends are best-effort and never block or fail the caller.

The default and only driver exercised by tests is SQLite
(gorm.io/driver/sqlite, via NewSQLiteSink). GormSink itself is
driver-agnostic: NewGormSink accepts any already-open internal/database
pool, whatever driver it was opened with.
*/
package audit
