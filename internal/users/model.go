// Package users implements registered-user persistence: the ordinary
// table-backed CRUD the hub keeps external to the core multiplexer
// (spec.md §1 "Explicitly out of scope"). The schema mirrors the
// original reglist table column-for-column so an existing database
// remains compatible (spec.md §6 "Persisted state").
package users

import "time"

// Record is the registered-user row, one per case-folded nickname. Field
// names track the original reglist columns; gorm tags reproduce the
// column names, types and indexes verbatim.
type Record struct {
	Nick string `gorm:"column:nick;primaryKey;size:64"`

	Class         int `gorm:"column:class;not null;default:1"`
	ClassProtect  int `gorm:"column:class_protect;not null;default:0"`
	ClassHideKick int `gorm:"column:class_hidekick;not null;default:0"`

	HideKick    bool `gorm:"column:hide_kick;not null;default:false"`
	HideKeys    bool `gorm:"column:hide_keys;not null;default:false"`
	HideShare   bool `gorm:"column:hide_share;not null;default:false"`
	HideCtmMsg  bool `gorm:"column:hide_ctmmsg;not null;default:false"`

	RegDate int64  `gorm:"column:reg_date;not null"`
	RegOp   string `gorm:"column:reg_op;size:64;not null"`

	PwdChange bool   `gorm:"column:pwd_change;not null;default:true"`
	PwdCrypt  bool   `gorm:"column:pwd_crypt;not null;default:true"`
	Passwd    string `gorm:"column:login_pwd;size:60;not null"`

	LoginLast  int64  `gorm:"column:login_last;not null;default:0;index:login_index"`
	LogoutLast int64  `gorm:"column:logout_last;not null;default:0;index:logout_index"`
	LoginCount int    `gorm:"column:login_cnt;not null;default:0"`
	LoginIP    string `gorm:"column:login_ip;size:16;not null"`

	ErrorLast  int64  `gorm:"column:error_last;not null"`
	ErrorCount int    `gorm:"column:error_cnt;not null;default:0"`
	ErrorIP    string `gorm:"column:error_ip;size:16;not null"`

	Enabled bool `gorm:"column:enabled;not null;default:true"`

	Email   string `gorm:"column:email;size:60;not null"`
	NoteOp  string `gorm:"column:note_op"`
	NoteUsr string `gorm:"column:note_usr"`

	AuthIP      string `gorm:"column:auth_ip;size:15;not null"`
	AlternateIP string `gorm:"column:alternate_ip;size:16;not null"`
}

// TableName pins the gorm table name to "reglist" regardless of the
// Record identifier's pluralization rules.
func (Record) TableName() string { return "reglist" }

// RecordLoginAt stamps the login bookkeeping fields for a successful login
// from addr at t.
func (r *Record) RecordLoginAt(t time.Time, addr string) {
	r.LoginLast = t.Unix()
	r.LoginCount++
	r.LoginIP = addr
}

// RecordLogoutAt stamps the logout bookkeeping field at t.
func (r *Record) RecordLogoutAt(t time.Time) {
	r.LogoutLast = t.Unix()
}

// RecordErrorAt stamps the failed-login bookkeeping fields at t.
func (r *Record) RecordErrorAt(t time.Time, addr string) {
	r.ErrorLast = t.Unix()
	r.ErrorCount++
	r.ErrorIP = addr
}
