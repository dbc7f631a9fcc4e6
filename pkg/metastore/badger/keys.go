package badger

// Database Key Namespace Design
// ==============================
//
// BadgerDB is a key-value store, so prefixed keys organize the control
// plane's record types into logical namespaces. This design:
//   - Prevents key collisions between record types
//   - Enables efficient range scans (all mounts, all configs)
//   - Makes the database structure self-documenting
//
// Key Namespace Prefixes:
//
// Record Type          Prefix  Key Format                  Value Type
// =====================================================================
// API Keys             "ak:"   ak:<key>                    APIKey (JSON)
// Storage Configs      "sc:"   sc:<uuid>                   StorageConfig (JSON)
// Mounts               "mt:"   mt:<uuid>                   Mount (JSON)
// Shared Files         "sf:"   sf:<uuid>                   SharedFile (JSON)
// Shared File Slugs    "sl:"   sl:<slug>                   fileID (bytes)
// Settings             "set:"  set:<name>                  value (bytes)
// Dir Modified Times   "dm:"   dm:<mountID>:<dir>          unix nanos (JSON int64)
//
// The slug index (sl:) is a denormalized pointer so the short-link
// download path resolves a slug with a single point lookup instead of a
// scan over all shared files.
//
// Dir-modified keys embed the mount ID first so that removing a mount can
// drop its whole namespace with one range scan over "dm:<mountID>:".

func keyAPIKey(key string) []byte       { return []byte("ak:" + key) }
func keyStorageConfig(id string) []byte { return []byte("sc:" + id) }
func keyMount(id string) []byte         { return []byte("mt:" + id) }
func keySharedFile(id string) []byte    { return []byte("sf:" + id) }
func keySlug(slug string) []byte        { return []byte("sl:" + slug) }
func keySetting(name string) []byte     { return []byte("set:" + name) }

func keyDirModified(mountID, dir string) []byte {
	return []byte("dm:" + mountID + ":" + dir)
}

var (
	prefixStorageConfig = []byte("sc:")
	prefixMount         = []byte("mt:")
)

func prefixDirModified(mountID string) []byte {
	return []byte("dm:" + mountID + ":")
}
