package db

const (
	insertUser = `
		INSERT INTO users (username, is_admin) VALUES (?, ?)
	`

	getUserByID = `
		SELECT id, username, is_admin, created_at FROM users WHERE id = ?
	`

	getUserByUsername = `
		SELECT id, username, is_admin, created_at FROM users WHERE username = ?
	`

	listUsers = `
		SELECT id, username, is_admin, created_at FROM users ORDER BY username ASC
	`

	deleteUser = `DELETE FROM users WHERE id = ?`
)

const (
	insertFile = `
		INSERT INTO files (owner_user_id, logical_name, storage_path, raw_metadata)
		VALUES (?, ?, ?, ?)
	`

	fileColumns = `id, owner_user_id, logical_name, storage_path,
		estimated_printing_seconds, estimated_material_grams, raw_metadata, created_at`

	getFileByID = `
		SELECT ` + fileColumns + ` FROM files WHERE id = ?
	`

	updateFileAnalysis = `
		UPDATE files SET estimated_printing_seconds = ?, estimated_material_grams = ?, raw_metadata = ?
		WHERE id = ?
	`

	deleteFile = `DELETE FROM files WHERE id = ?`
)

const (
	printerColumns = `p.id, p.model_id, m.name, p.state_id, s.name, s.is_operational,
		p.name, p.serial, p.ip_address, p.api_key_digest, p.current_job_id, p.session_id,
		p.total_success_prints, p.total_failed_prints, p.total_printing_seconds,
		p.created_at, p.updated_at`

	printerFrom = `
		FROM printers p
		JOIN printer_models m ON m.id = p.model_id
		JOIN printer_states s ON s.id = p.state_id
	`

	insertPrinter = `
		INSERT INTO printers (model_id, state_id, name, serial, ip_address, api_key_digest)
		VALUES (?, (SELECT id FROM printer_states WHERE name = ?), ?, ?, ?, ?)
	`

	getPrinterByID = `SELECT ` + printerColumns + printerFrom + ` WHERE p.id = ?`

	getPrinterBySerial = `SELECT ` + printerColumns + printerFrom + ` WHERE p.serial = ?`

	getPrinterByAPIKeyDigest = `SELECT ` + printerColumns + printerFrom + ` WHERE p.api_key_digest = ?`

	listPrinters = `SELECT ` + printerColumns + printerFrom + ` ORDER BY p.name ASC`

	listOperationalPrinters = `
		SELECT ` + printerColumns + printerFrom + `
		WHERE s.is_operational = 1 ORDER BY p.name ASC
	`

	updatePrinterState = `
		UPDATE printers SET state_id = (SELECT id FROM printer_states WHERE name = ?),
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	updatePrinterCurrentJob = `
		UPDATE printers SET current_job_id = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`

	updatePrinterSession = `
		UPDATE printers SET session_id = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`

	addPrinterTotals = `
		UPDATE printers SET
			total_success_prints = total_success_prints + ?,
			total_failed_prints = total_failed_prints + ?,
			total_printing_seconds = total_printing_seconds + ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	listPrinterExtruders = `
		SELECT id, printer_id, extruder_index, current_extruder_type_id, current_material_id
		FROM printer_extruders WHERE printer_id = ? ORDER BY extruder_index ASC
	`

	upsertPrinterExtruder = `
		INSERT INTO printer_extruders (printer_id, extruder_index, current_extruder_type_id, current_material_id)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (printer_id, extruder_index) DO UPDATE SET
			current_extruder_type_id = excluded.current_extruder_type_id,
			current_material_id = excluded.current_material_id
	`

	deletePrinterExtrudersFrom = `
		DELETE FROM printer_extruders WHERE printer_id = ? AND extruder_index >= ?
	`
)

const (
	jobColumns = `id, state, file_id, user_id, name, can_be_printed, priority_index,
		retries, succeeded, interrupted, analyzed, progress, estimated_seconds_left,
		estimated_printing_seconds, assigned_printer_id, started_at, created_at, updated_at`

	insertJob = `
		INSERT INTO jobs (state, file_id, user_id, name) VALUES (?, ?, ?, ?)
	`

	getJobByID = `SELECT ` + jobColumns + ` FROM jobs WHERE id = ?`

	updateJobName = `
		UPDATE jobs SET name = ?, updated_at = ? WHERE id = ?
	`

	updateJobState = `
		UPDATE jobs SET state = ?, updated_at = ? WHERE id = ?
	`

	updateJobPriority = `
		UPDATE jobs SET priority_index = ?, updated_at = ? WHERE id = ?
	`

	shiftJobPriorities = `
		UPDATE jobs SET priority_index = priority_index + ?
		WHERE state = 'Waiting' AND priority_index >= ? AND priority_index <= ?
	`

	minWaitingPriority = `
		SELECT MIN(priority_index) FROM jobs WHERE state = 'Waiting' AND priority_index IS NOT NULL
	`

	maxWaitingPriority = `
		SELECT MAX(priority_index) FROM jobs WHERE state = 'Waiting' AND priority_index IS NOT NULL
	`

	updateJobCanBePrinted = `
		UPDATE jobs SET can_be_printed = ? WHERE id = ?
	`

	updateJobProgress = `
		UPDATE jobs SET progress = ?, estimated_seconds_left = ? WHERE id = ?
	`

	updateJobAssignedPrinter = `
		UPDATE jobs SET assigned_printer_id = ?, updated_at = ? WHERE id = ?
	`

	updateJobStartedAt = `
		UPDATE jobs SET started_at = ? WHERE id = ?
	`

	updateJobOutcome = `
		UPDATE jobs SET succeeded = ?, interrupted = ? WHERE id = ?
	`

	incrementJobRetries = `
		UPDATE jobs SET retries = retries + 1 WHERE id = ?
	`

	updateJobAnalyzed = `
		UPDATE jobs SET analyzed = ?, estimated_printing_seconds = ? WHERE id = ?
	`

	firstFeasibleWaitingJob = `
		SELECT ` + jobColumns + ` FROM jobs
		WHERE state = 'Waiting' AND can_be_printed = 1
		ORDER BY priority_index ASC LIMIT 1
	`

	countFeasibleWaitingJobs = `
		SELECT COUNT(*) FROM jobs WHERE state = 'Waiting' AND can_be_printed = 1
	`

	countJobsByFile = `
		SELECT COUNT(*) FROM jobs WHERE file_id = ?
	`

	deleteJob = `DELETE FROM jobs WHERE id = ?`

	insertJobAllowedMaterial = `
		INSERT INTO job_allowed_materials (job_id, material_id, extruder_index) VALUES (?, ?, ?)
	`

	insertJobAllowedExtruder = `
		INSERT INTO job_allowed_extruders (job_id, extruder_type_id, extruder_index) VALUES (?, ?, ?)
	`

	insertJobExtruderData = `
		INSERT INTO job_extruder_data (job_id, extruder_index, used_material_id, used_extruder_type_id, estimated_material_grams)
		VALUES (?, ?, ?, ?, ?)
	`

	listJobAllowedMaterials = `
		SELECT id, job_id, material_id, extruder_index
		FROM job_allowed_materials WHERE job_id = ? ORDER BY extruder_index ASC
	`

	listJobAllowedExtruders = `
		SELECT id, job_id, extruder_type_id, extruder_index
		FROM job_allowed_extruders WHERE job_id = ? ORDER BY extruder_index ASC
	`

	listJobExtruderData = `
		SELECT id, job_id, extruder_index, used_material_id, used_extruder_type_id, estimated_material_grams
		FROM job_extruder_data WHERE job_id = ? ORDER BY extruder_index ASC
	`

	deleteJobAnalysisRows1 = `DELETE FROM job_allowed_materials WHERE job_id = ?`
	deleteJobAnalysisRows2 = `DELETE FROM job_allowed_extruders WHERE job_id = ?`
	deleteJobAnalysisRows3 = `DELETE FROM job_extruder_data WHERE job_id = ?`
)

const (
	insertPrinterModel = `
		INSERT INTO printer_models (name, width, depth, height) VALUES (?, ?, ?, ?)
	`

	insertPrinterState = `
		INSERT INTO printer_states (name, is_operational) VALUES (?, ?)
	`

	insertExtruderType = `
		INSERT INTO extruder_types (brand, nozzle_diameter) VALUES (?, ?)
	`

	insertMaterial = `
		INSERT INTO materials (type, color, brand, guid, print_temp, bed_temp)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	listPrinterModels = `SELECT id, name, width, depth, height FROM printer_models ORDER BY name ASC`

	listPrinterStates = `SELECT id, name, is_operational FROM printer_states ORDER BY id ASC`

	getPrinterStateByName = `SELECT id, name, is_operational FROM printer_states WHERE name = ?`

	listExtruderTypes = `SELECT id, brand, nozzle_diameter FROM extruder_types ORDER BY id ASC`

	listMaterials = `SELECT id, type, color, brand, guid, print_temp, bed_temp FROM materials ORDER BY id ASC`

	countPrinterStates = `SELECT COUNT(*) FROM printer_states`
)
