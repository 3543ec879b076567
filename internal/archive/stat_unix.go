package archive

import (
	"io/fs"
	"syscall"
	"time"
)

// platformStat extracts the uid/gid/inode/ctime fields info.Sys()
// carries on a Unix filesystem but fs.FileInfo itself does not expose.
func platformStat(info fs.FileInfo) statFields {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return statFields{size: info.Size(), mtimeNS: info.ModTime().UnixNano()}
	}
	return statFields{
		uid:     int(st.Uid),
		gid:     int(st.Gid),
		size:    info.Size(),
		mtimeNS: info.ModTime().UnixNano(),
		ctimeNS: time.Unix(st.Ctim.Sec, st.Ctim.Nsec).UnixNano(),
		inode:   st.Ino,
	}
}
