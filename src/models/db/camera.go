package db

// Camera is one exported registry row.
type Camera struct {
	CameraId     string `json:"cameraId" db:"camera_id"`
	Name         string `json:"name" db:"name"`
	NodeType     string `json:"nodeType" db:"node_type"`
	Status       string `json:"status" db:"status"`
	Capabilities string `json:"capabilities" db:"capabilities"`
	Scheme       string `json:"scheme" db:"scheme"`
	Host         string `json:"host" db:"host"`
	Port         int    `json:"port" db:"port"`
	Path         string `json:"path" db:"path"`
	Source       string `json:"source" db:"source"`
	LastSeen     int64  `json:"lastSeen" db:"last_seen"`
	RecordingId  string `json:"recordingId" db:"recording_id"`
}

func (c Camera) TableName() string {
	return "cameras"
}

func (c Camera) Fields() []string {
	return []string{
		"camera_id",
		"name",
		"node_type",
		"status",
		"capabilities",
		"scheme",
		"host",
		"port",
		"path",
		"source",
		"last_seen",
		"recording_id",
	}
}

func (c Camera) Values() []interface{} {
	return []interface{}{
		c.CameraId,
		c.Name,
		c.NodeType,
		c.Status,
		c.Capabilities,
		c.Scheme,
		c.Host,
		c.Port,
		c.Path,
		c.Source,
		c.LastSeen,
		c.RecordingId,
	}
}

const CameraSchema = `CREATE TABLE IF NOT EXISTS cameras (
	camera_id    TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	node_type    TEXT NOT NULL,
	status       TEXT NOT NULL,
	capabilities TEXT NOT NULL,
	scheme       TEXT NOT NULL,
	host         TEXT NOT NULL,
	port         INTEGER NOT NULL,
	path         TEXT NOT NULL,
	source       TEXT NOT NULL,
	last_seen    INTEGER NOT NULL,
	recording_id TEXT NOT NULL DEFAULT ''
)`
