package repository

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		email TEXT NOT NULL DEFAULT '',
		is_admin INTEGER NOT NULL DEFAULT 0,
		is_active INTEGER NOT NULL DEFAULT 1,
		department_id INTEGER,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS roles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS departments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS user_roles (
		user_id INTEGER NOT NULL,
		role_id INTEGER NOT NULL,
		PRIMARY KEY (user_id, role_id)
	)`,
	`CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		archived INTEGER NOT NULL DEFAULT 0,
		starred INTEGER NOT NULL DEFAULT 0,
		state TEXT NOT NULL DEFAULT '{"todos":[],"uploads":{}}',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(user_id)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id TEXT NOT NULL,
		step_order INTEGER NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		tool_calls TEXT,
		tool_name TEXT,
		tool_call_id TEXT,
		tool_return_content TEXT,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (conversation_id, step_order)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, step_order)`,
	`CREATE TABLE IF NOT EXISTS mcp_servers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		description TEXT NOT NULL DEFAULT '',
		transport TEXT NOT NULL,
		command TEXT NOT NULL DEFAULT '',
		args TEXT,
		env TEXT,
		url TEXT NOT NULL DEFAULT '',
		timeout_seconds INTEGER NOT NULL DEFAULT 120,
		is_active INTEGER NOT NULL DEFAULT 1,
		is_builtin INTEGER NOT NULL DEFAULT 0,
		created_by INTEGER,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS mcp_tools (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		server_id INTEGER NOT NULL,
		name TEXT NOT NULL UNIQUE,
		description TEXT NOT NULL DEFAULT '',
		is_active INTEGER NOT NULL DEFAULT 1
	)`,
	`CREATE TABLE IF NOT EXISTS skills (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		description TEXT NOT NULL DEFAULT '',
		version TEXT NOT NULL DEFAULT '',
		author TEXT NOT NULL DEFAULT '',
		tags TEXT,
		path TEXT NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS role_tool_permissions (
		role_id INTEGER NOT NULL,
		tool_id INTEGER NOT NULL,
		can_use INTEGER NOT NULL DEFAULT 1,
		PRIMARY KEY (role_id, tool_id)
	)`,
	`CREATE TABLE IF NOT EXISTS department_tool_permissions (
		department_id INTEGER NOT NULL,
		tool_id INTEGER NOT NULL,
		is_allowed INTEGER NOT NULL DEFAULT 1,
		PRIMARY KEY (department_id, tool_id)
	)`,
	`CREATE TABLE IF NOT EXISTS role_skill_permissions (
		role_id INTEGER NOT NULL,
		skill_id INTEGER NOT NULL,
		can_use INTEGER NOT NULL DEFAULT 1,
		PRIMARY KEY (role_id, skill_id)
	)`,
	`CREATE TABLE IF NOT EXISTS department_skill_permissions (
		department_id INTEGER NOT NULL,
		skill_id INTEGER NOT NULL,
		is_allowed INTEGER NOT NULL DEFAULT 1,
		PRIMARY KEY (department_id, skill_id)
	)`,
	`CREATE TABLE IF NOT EXISTS llm_model_configs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		provider TEXT NOT NULL,
		model_id TEXT NOT NULL,
		base_url TEXT NOT NULL DEFAULT '',
		api_key_env TEXT NOT NULL DEFAULT '',
		is_default INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
}
