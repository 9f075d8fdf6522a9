package model

import "time"

// User 用户身份（姓名字段）
// 密码仅存储哈希，不参与 JSON 编码
type User struct {
	ID           string    `json:"id" gorm:"primaryKey;type:varchar(64)"`
	FirstName    string    `json:"first_name" gorm:"type:varchar(64);comment:名"`
	LastName     string    `json:"last_name" gorm:"type:varchar(64);comment:姓"`
	Email        string    `json:"email" gorm:"type:varchar(128);index;comment:邮箱"`
	Role         string    `json:"role" gorm:"type:varchar(32);comment:shipper/driver"`
	PasswordHash string    `json:"-" gorm:"type:varchar(255);comment:密码哈希"`
	DateCreated  time.Time `json:"date_created" gorm:"autoCreateTime"`
}

func (User) TableName() string { return CollectionUsers }

// Profile 用户资料，Avatar 为文件ID
type Profile struct {
	ID          int64     `json:"id,omitempty" gorm:"primaryKey"`
	UserID      string    `json:"user_id" gorm:"type:varchar(64);uniqueIndex;comment:用户ID"`
	Avatar      *string   `json:"avatar" gorm:"type:varchar(64);comment:头像文件ID"`
	CompanyName string    `json:"company_name" gorm:"type:varchar(128)"`
	Phone       string    `json:"phone" gorm:"type:varchar(32)"`
	DateCreated time.Time `json:"date_created" gorm:"autoCreateTime"`
}

func (Profile) TableName() string { return CollectionProfiles }

// File 上传文件元数据
type File struct {
	ID               string    `json:"id" gorm:"primaryKey;type:varchar(64)"`
	FilenameDownload string    `json:"filename_download" gorm:"type:varchar(255)"`
	Type             string    `json:"type" gorm:"type:varchar(128);comment:MIME类型"`
	Filesize         int64     `json:"filesize"`
	Storage          string    `json:"storage" gorm:"type:varchar(255);comment:上传目录内的文件名"`
	UploadedBy       string    `json:"uploaded_by" gorm:"type:varchar(64)"`
	UploadedOn       time.Time `json:"uploaded_on"`
}

func (File) TableName() string { return CollectionFiles }
